package loader

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	LoadDurationHistogram = metrics.MustRegisterHistogram(
		metrics.SubsystemLoader,
		"load_duration_seconds",
		"Duration of fragment loads of one equip set.",
	)

	LoadFailureCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemLoader,
		"load_failure_total",
		"Number of failed or cancelled fragment loads.",
	)
)
