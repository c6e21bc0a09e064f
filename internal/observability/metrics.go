// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsFetched      *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	SignalsScored      *prometheus.CounterVec
	ScoringFailures    *prometheus.CounterVec
	SourcesUnavailable *prometheus.CounterVec
	CycleDuration      prometheus.Histogram

	// Alert metrics
	AlertsRaised *prometheus.CounterVec

	// Model metrics
	ModelFitted      prometheus.Gauge
	ModelSampleCount prometheus.Gauge
	LastFitTimestamp prometheus.Gauge
	RefitDuration    prometheus.Histogram
	RefitFailures    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_signal_lab"
	}

	return &Metrics{
		EventsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_fetched_total",
			Help:      "Total number of raw events fetched by source",
		}, []string{"source"}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Total number of events dropped at normalization by source",
		}, []string{"source"}),
		SignalsScored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "signals_scored_total",
			Help:      "Total number of signals scored and persisted by source",
		}, []string{"source"}),
		ScoringFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "scoring_failures_total",
			Help:      "Total number of events that failed scoring or persistence by source",
		}, []string{"source"}),
		SourcesUnavailable: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "sources_unavailable_total",
			Help:      "Total number of cycles a source was skipped as unavailable",
		}, []string{"source"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Ingestion cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Total number of alerts raised by reason and severity",
		}, []string{"reason", "severity"}),

		ModelFitted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "fitted",
			Help:      "1 when a fitted model is live, 0 while untrained",
		}),
		ModelSampleCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "sample_count",
			Help:      "Number of samples the live model was fitted on",
		}),
		LastFitTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "last_fit_timestamp",
			Help:      "Unix timestamp of the last successful fit",
		}),
		RefitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "refit_duration_seconds",
			Help:      "Model refit duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		RefitFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "refit_failures_total",
			Help:      "Total number of failed refit attempts",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAlert increments the alert counter.
func (m *Metrics) RecordAlert(reason, severity string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(reason, severity).Inc()
}

// RecordModelState updates the model gauges after a fit or bootstrap.
func (m *Metrics) RecordModelState(fitted bool, sampleCount int, fitUnix int64) {
	if m == nil {
		return
	}
	if fitted {
		m.ModelFitted.Set(1)
	} else {
		m.ModelFitted.Set(0)
	}
	m.ModelSampleCount.Set(float64(sampleCount))
	if fitUnix > 0 {
		m.LastFitTimestamp.Set(float64(fitUnix))
	}
}
