// Package metrics collects Prometheus metrics for the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vkoskela/listing-autofill/internal/storage"
)

// Collector implements the pipeline's observer hooks: queue item outcomes,
// provider fallbacks and cache hits.
type Collector struct {
	itemsProcessed    *prometheus.CounterVec
	itemsFailed       *prometheus.CounterVec
	processingLatency prometheus.Histogram
	providerFallbacks prometheus.Counter
	cacheHits         prometheus.Counter
}

// NewCollector creates a collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofill_queue_items_processed_total",
			Help: "Queue items processed successfully, by processing type.",
		}, []string{"processing_type"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofill_queue_items_failed_total",
			Help: "Queue items that failed processing, by processing type.",
		}, []string{"processing_type"}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autofill_item_processing_seconds",
			Help:    "Latency of processing one queue item.",
			Buckets: prometheus.DefBuckets,
		}),
		providerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autofill_provider_fallbacks_total",
			Help: "Remote vision provider failures recovered by the local fallback.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autofill_analysis_cache_hits_total",
			Help: "Analysis results served from the content-hash cache.",
		}),
	}

	reg.MustRegister(
		c.itemsProcessed,
		c.itemsFailed,
		c.processingLatency,
		c.providerFallbacks,
		c.cacheHits,
	)
	return c
}

// RecordItemProcessed implements queue.Observer.
func (c *Collector) RecordItemProcessed(pt storage.ProcessingType, duration time.Duration) {
	c.itemsProcessed.WithLabelValues(string(pt)).Inc()
	c.processingLatency.Observe(duration.Seconds())
}

// RecordItemFailed implements queue.Observer.
func (c *Collector) RecordItemFailed(pt storage.ProcessingType) {
	c.itemsFailed.WithLabelValues(string(pt)).Inc()
}

// RecordProviderFallback implements analysis.FallbackObserver.
func (c *Collector) RecordProviderFallback() {
	c.providerFallbacks.Inc()
}

// RecordCacheHit implements analysis.CacheObserver.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}
