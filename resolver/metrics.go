package resolver

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	ResolveDurationHistogram = metrics.MustRegisterHistogram(
		metrics.SubsystemResolver,
		"resolve_duration_seconds",
		"Duration of wearable resolutions.",
	)

	ResolveFailureCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemResolver,
		"resolve_failure_total",
		"Number of failed wearable resolutions.",
	)
)
