package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "risk_grid"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Tessellation metrics.
	TessellationsTotal   *prometheus.CounterVec // labels: mode={severity,weighted}, outcome={ok,invalid,error}
	TessellationDuration prometheus.Histogram
	CellsGenerated       prometheus.Histogram
	ResolutionDowngrades prometheus.Counter
	CellScoreFailures    prometheus.Counter

	// Tile cache metrics.
	TileLookups       *prometheus.CounterVec // labels: tier={memory,disk,network}, result={hit,miss,error}
	TileEvictions     prometheus.Counter
	TileCorruptFiles  prometheus.Counter
	TileFetchDuration prometheus.Histogram
	TileCacheEntries  prometheus.Gauge

	// Collaborator metrics.
	HazardRequests  *prometheus.CounterVec // labels: kind, outcome={success,error}
	HazardCache     *prometheus.CounterVec // labels: result={hit,miss,error}
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,not_found}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
	SinkErrors      *prometheus.CounterVec // labels: sink

	// Job pipeline metrics.
	JobsConsumed            prometheus.Counter
	JobsFailed              prometheus.Counter
	ZonesPublished          prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		TessellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tessellations_total",
			Help:      "Tessellation requests by scoring mode and outcome.",
		}, []string{"mode", "outcome"}),
		TessellationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tessellation_duration_seconds",
			Help:      "Duration of a complete generate-score-diffuse-package run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CellsGenerated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cells_generated",
			Help:      "Number of hexagonal cells per tessellation.",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 3000},
		}),
		ResolutionDowngrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_downgrades_total",
			Help:      "Requests coarsened to stay within the cell budget.",
		}),
		CellScoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_score_failures_total",
			Help:      "Cells that fell back to a best-effort default score.",
		}),
		TileLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_lookups_total",
			Help:      "Elevation tile lookups by cache tier and result.",
		}, []string{"tier", "result"}),
		TileEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_evictions_total",
			Help:      "Decoded tiles evicted from the memory cache.",
		}),
		TileCorruptFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_corrupt_files_total",
			Help:      "Undecodable disk tiles deleted and refetched.",
		}),
		TileFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_fetch_duration_seconds",
			Help:      "Remote elevation tile fetch duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TileCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_cache_entries",
			Help:      "Decoded tiles resident in memory.",
		}),
		HazardRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hazard_requests_total",
			Help:      "Hazard feed requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		HazardCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hazard_cache_total",
			Help:      "Hazard score cache lookups by result.",
		}, []string{"result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_sink_errors_total",
			Help:      "Failed zone persistence attempts by sink.",
		}, []string{"sink"}),
		JobsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_consumed_total",
			Help:      "Tessellation jobs read from the jobs topic.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Tessellation jobs skipped because they could not be decoded or run.",
		}),
		ZonesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zones_published_total",
			Help:      "Risk zones written to the zones topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the job pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of jobs per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete job batch extract-tessellate-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TessellationsTotal,
		m.TessellationDuration,
		m.CellsGenerated,
		m.ResolutionDowngrades,
		m.CellScoreFailures,
		m.TileLookups,
		m.TileEvictions,
		m.TileCorruptFiles,
		m.TileFetchDuration,
		m.TileCacheEntries,
		m.HazardRequests,
		m.HazardCache,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.SinkErrors,
		m.JobsConsumed,
		m.JobsFailed,
		m.ZonesPublished,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
	}
}
