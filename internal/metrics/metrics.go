// Package metrics exposes Prometheus collectors for the retrieval and
// ingestion pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tutor"

// Fallback names used with the fallbacks counter.
const (
	FallbackBM25       = "bm25"
	FallbackDenseEmpty = "dense_empty"
	FallbackRerank     = "rerank"
)

type Metrics struct {
	StageDuration    *prometheus.HistogramVec
	Fallbacks        *prometheus.CounterVec
	GenerationErrors prometheus.Counter
	IndexedResources *prometheus.CounterVec
	SafetySeverities *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_fallbacks_total",
				Help:      "Retrieval fallbacks taken, by kind",
			},
			[]string{"kind"},
		),
		GenerationErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_errors_total",
				Help:      "Failed generator calls",
			},
		),
		IndexedResources: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indexed_resources_total",
				Help:      "Indexing outcomes by status",
			},
			[]string{"status"},
		),
		SafetySeverities: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_reports_total",
				Help:      "Safety reports by computed severity",
			},
			[]string{"severity"},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "MCP tool calls by tool and outcome",
			},
			[]string{"tool", "status"},
		),
	}
}

// ObserveStage records the time elapsed since start for stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Fallback(kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) GenerationFailed() {
	if m == nil {
		return
	}
	m.GenerationErrors.Inc()
}

func (m *Metrics) Indexed(status string) {
	if m == nil {
		return
	}
	m.IndexedResources.WithLabelValues(status).Inc()
}

func (m *Metrics) Severity(severity string) {
	if m == nil {
		return
	}
	m.SafetySeverities.WithLabelValues(severity).Inc()
}

func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}
