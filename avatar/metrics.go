package avatar

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	LoadCounterTotal = metrics.MustRegisterCounterVec(
		metrics.SubsystemAvatar,
		"load_total",
		"Number of avatar loads by outcome.",
		"outcome",
	)

	LoadDurationHistogram = metrics.MustRegisterHistogram(
		metrics.SubsystemAvatar,
		"load_duration_seconds",
		"Duration of avatar loads from request to commit.",
	)

	AvatarsGauge = metrics.MustRegisterGauge(
		metrics.SubsystemAvatar,
		"avatars",
		"Number of avatars managed by all systems.",
	)
)
