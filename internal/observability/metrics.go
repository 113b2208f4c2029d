package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wnv_prep"

// Metrics holds the Prometheus counters, histograms, and gauges for the preparation pipeline.
type Metrics struct {
	DatesProcessed      *prometheus.CounterVec // labels: stage={mosaic,aggregate}, outcome={success,skipped,failed}
	ObservationsWritten prometheus.Counter
	Repairs             *prometheus.CounterVec // labels: repair={observed,midpoint,interpolated,dropped}
	ZonesResolved       prometheus.Gauge
	ZonesDiscarded      prometheus.Counter
	TrapsUnmatched      prometheus.Counter
	PipelineRunning     prometheus.Gauge

	StageDuration *prometheus.HistogramVec // labels: stage
	ZoneCache     *prometheus.CounterVec   // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.DatesProcessed,
		m.ObservationsWritten,
		m.Repairs,
		m.ZonesResolved,
		m.ZonesDiscarded,
		m.TrapsUnmatched,
		m.PipelineRunning,
		m.StageDuration,
		m.ZoneCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// WriteTextfile dumps the default registry in text exposition format, for
// batch runs scraped through a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// ObserveZoneCache records one projected zone index lookup.
func (m *Metrics) ObserveZoneCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ZoneCache.WithLabelValues(result).Inc()
}

func newMetrics() *Metrics {
	return &Metrics{
		DatesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dates_processed_total",
			Help:      "Dates handled per stage by outcome.",
		}, []string{"stage", "outcome"}),
		ObservationsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_written_total",
			Help:      "Zonal observations written to the store.",
		}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Repaired series entries by repair state.",
		}, []string{"repair"}),
		ZonesResolved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zones_resolved",
			Help:      "Zones kept by the last boundary resolution.",
		}),
		ZonesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zones_discarded_total",
			Help:      "Zone slivers dropped below the minimum area.",
		}),
		TrapsUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_unmatched_total",
			Help:      "Trap records that fell outside every zone.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a stage is running, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a complete pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		ZoneCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_cache_total",
			Help:      "Projected zone index lookups by result.",
		}, []string{"result"}),
	}
}
