package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveCall("engineer", "gpt-4o", "success", 120*time.Millisecond)
	rec.ObserveCall("engineer", "gpt-4o", "success", 80*time.Millisecond)
	rec.ObserveCall("engineer", "gpt-4o", "rate_limited", time.Millisecond)
	rec.IncCache("hit")
	rec.IncCache("miss")
	rec.IncCache("miss")
	rec.IncFallback("engineer", "local")
	rec.IncRateLimited("gpt-4o", "gate")
	rec.SetRunning("gpt-4o", 3)
	rec.ObservePhase("intent", true, time.Second)
	rec.ObserveWorkflow("success", 2*time.Second)

	assert.Equal(t, 2.0, promtest.ToFloat64(rec.callsTotal.WithLabelValues("engineer", "gpt-4o", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.callsTotal.WithLabelValues("engineer", "gpt-4o", "rate_limited")))
	assert.Equal(t, 2.0, promtest.ToFloat64(rec.cacheTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.fallbacksTotal.WithLabelValues("engineer", "local")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.rateLimitedTotal.WithLabelValues("gpt-4o", "gate")))
	assert.Equal(t, 3.0, promtest.ToFloat64(rec.runningTasks.WithLabelValues("gpt-4o")))
	assert.Equal(t, 1.0, promtest.ToFloat64(rec.workflowsTotal.WithLabelValues("success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "switchboard_expert_call_duration_seconds")
	assert.Contains(t, names, "switchboard_phase_duration_seconds")
	assert.Contains(t, names, "switchboard_workflow_duration_seconds")
}

func TestPrometheusRecorder_SeparateRegistries(t *testing.T) {
	// Each recorder owns its registry, so building two never collides.
	require.NotPanics(t, func() {
		NewPrometheusRecorder(prometheus.NewRegistry())
		NewPrometheusRecorder(prometheus.NewRegistry())
	})
}

func TestNopRecorder(t *testing.T) {
	rec := NopMetrics()
	assert.NotPanics(t, func() {
		rec.ObserveCall("a", "m", "success", time.Second)
		rec.IncCache("hit")
		rec.SetRunning("m", 1)
		rec.ObserveWorkflow("failure", time.Second)
	})
}
