package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImageCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castcompanion_image_cache_lookups_total",
		Help: "Image cache lookups by result (hit, miss, joined)",
	}, []string{"result"})

	ImageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castcompanion_image_fetches_total",
		Help: "Completed network image fetches by outcome",
	}, []string{"outcome"})

	ImageCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castcompanion_image_cache_evictions_total",
		Help: "Entries evicted from the image cache",
	})

	ImageCacheRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castcompanion_image_cache_rejected_total",
		Help: "Images delivered but not admitted to the cache because they were too large",
	})

	ImageStaleDiscardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castcompanion_image_stale_discards_total",
		Help: "Fetch results dropped because the request had been cancelled",
	})

	DispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castcompanion_dispatch_failures_total",
		Help: "Session event handlers that returned an error or panicked",
	}, []string{"kind"})
)

// IncLookup records an image cache lookup.
func IncLookup(result string) {
	ImageCacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncFetch records a completed network fetch. outcome is "ok" or "error".
func IncFetch(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	ImageFetchesTotal.WithLabelValues(outcome).Inc()
}

// IncDispatchFailure records a failed event handler for the given event kind.
func IncDispatchFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	DispatchFailuresTotal.WithLabelValues(kind).Inc()
}
