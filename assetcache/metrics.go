package assetcache

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	CacheHitCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCache,
		"hit_total",
		"Number of acquisitions served by an imported entry.",
	)

	CacheMissCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCache,
		"miss_total",
		"Number of acquisitions that started an import.",
	)

	CacheShareCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCache,
		"share_total",
		"Number of acquisitions that attached to an in-flight import.",
	)

	CacheImportFailureCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCache,
		"import_failure_total",
		"Number of failed imports.",
	)

	CacheEvictionCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCache,
		"eviction_total",
		"Number of destroyed entries.",
	)

	InFlightGauge = metrics.MustRegisterGauge(
		metrics.SubsystemCache,
		"imports_in_flight",
		"Number of imports currently running or waiting for an import slot.",
	)

	EntriesGauge = metrics.MustRegisterGauge(
		metrics.SubsystemCache,
		"entries",
		"Number of imported entries held by all caches.",
	)

	ImportDurationHistogram = metrics.MustRegisterHistogram(
		metrics.SubsystemCache,
		"import_duration_seconds",
		"Duration of asset imports including the wait for an import slot.",
	)
)
