package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("retrieve", time.Now())
		m.Fallback(FallbackBM25)
		m.GenerationFailed()
		m.Indexed("indexed")
		m.Severity("low")
		m.ToolCall("ask", "ok")
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fallback(FallbackBM25)
	m.Fallback(FallbackBM25)
	m.Fallback(FallbackRerank)
	m.GenerationFailed()
	m.ObserveStage("retrieve", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues(FallbackBM25)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues(FallbackRerank)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationErrors))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "tutor_stage_duration_seconds")
	assert.Contains(t, names, "tutor_retrieval_fallbacks_total")
}
