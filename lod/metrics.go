package lod

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	TierGauge = metrics.MustRegisterGaugeVec(
		metrics.SubsystemQuality,
		"avatars",
		"Number of avatars per quality tier after the last update.",
		"tier",
	)

	TierTransitionCounterTotal = metrics.MustRegisterCounterVec(
		metrics.SubsystemQuality,
		"tier_transition_total",
		"Number of tier changes by target tier.",
		"tier",
	)
)
