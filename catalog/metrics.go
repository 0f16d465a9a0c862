package catalog

import "github.com/jeremaih2/avatarsystem/metrics"

var (
	CacheHitCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCatalog,
		"cache_hit_total",
		"Number of descriptor lookups served from the catalog cache.",
	)

	CacheMissCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCatalog,
		"cache_miss_total",
		"Number of descriptor lookups that missed the catalog cache.",
	)

	CacheShareCounterTotal = metrics.MustRegisterCounter(
		metrics.SubsystemCatalog,
		"cache_share_total",
		"Number of descriptor lookups that shared an in-flight fetch.",
	)

	RouteCounterTotal = metrics.MustRegisterCounterVec(
		metrics.SubsystemCatalog,
		"route_total",
		"Number of descriptor lookups dispatched per route pattern.",
		"pattern",
	)
)
