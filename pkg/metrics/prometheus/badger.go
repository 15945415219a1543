package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/blockflush/pkg/metrics"
)

// badgerMetrics is the Prometheus implementation for BadgerDB metrics.
//
// Volume store caches are sampled periodically, so cumulative hit and miss
// counts are published as gauges set to the store's running totals.
type badgerMetrics struct {
	cacheHitRatio *prometheus.GaugeVec
	cacheHits     *prometheus.GaugeVec
	cacheMisses   *prometheus.GaugeVec
}

// NewBadgerMetrics creates a new Prometheus-backed BadgerDB metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBadgerMetrics() *badgerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &badgerMetrics{
		cacheHitRatio: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockflush_badger_cache_hit_ratio",
				Help: "BadgerDB cache hit ratio (0.0 to 1.0) by volume and cache type",
			},
			[]string{"volume", "cache_type"}, // "block", "index"
		),
		cacheHits: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockflush_badger_cache_hits",
				Help: "Cumulative BadgerDB cache hits by volume and cache type",
			},
			[]string{"volume", "cache_type"},
		),
		cacheMisses: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockflush_badger_cache_misses",
				Help: "Cumulative BadgerDB cache misses by volume and cache type",
			},
			[]string{"volume", "cache_type"},
		),
	}
}

// SetCacheStats publishes one cache sample for a volume store.
func (m *badgerMetrics) SetCacheStats(volume, cacheType string, hits, misses uint64, ratio float64) {
	if m == nil {
		return
	}
	m.cacheHitRatio.WithLabelValues(volume, cacheType).Set(ratio)
	m.cacheHits.WithLabelValues(volume, cacheType).Set(float64(hits))
	m.cacheMisses.WithLabelValues(volume, cacheType).Set(float64(misses))
}
