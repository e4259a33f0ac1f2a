package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives routing, task and workflow measurements.
type Recorder interface {
	// ObserveCall records one backend call attempt for an expert.
	ObserveCall(expertID, model, outcome string, duration time.Duration)
	// IncCache records a cache lookup outcome ("hit" or "miss").
	IncCache(outcome string)
	// IncFallback records that from fell back to to.
	IncFallback(from, to string)
	// IncRateLimited records a rate-limit hit or gate rejection for model.
	IncRateLimited(model, reason string)
	// SetRunning sets the running task gauge for model.
	SetRunning(model string, n int)
	// ObservePhase records one phase execution.
	ObservePhase(phase string, success bool, duration time.Duration)
	// ObserveWorkflow records a finished workflow.
	ObserveWorkflow(outcome string, duration time.Duration)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

// NopMetrics returns a recorder that discards everything.
func NopMetrics() Recorder { return NopRecorder{} }

func (NopRecorder) ObserveCall(_, _, _ string, _ time.Duration) {}
func (NopRecorder) IncCache(_ string) {}
func (NopRecorder) IncFallback(_, _ string) {}
func (NopRecorder) IncRateLimited(_, _ string) {}
func (NopRecorder) SetRunning(_ string, _ int) {}
func (NopRecorder) ObservePhase(_ string, _ bool, _ time.Duration) {}
func (NopRecorder) ObserveWorkflow(_ string, _ time.Duration) {}

// PrometheusRecorder implements Recorder with Prometheus collectors
// registered on a caller supplied registry.
type PrometheusRecorder struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	cacheTotal       *prometheus.CounterVec
	fallbacksTotal   *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
	runningTasks     *prometheus.GaugeVec
	phaseDuration    *prometheus.HistogramVec
	workflowsTotal   *prometheus.CounterVec
	workflowDuration prometheus.Histogram
}

// NewPrometheusRecorder registers the switchboard collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		callsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_expert_calls_total",
				Help: "Backend calls by expert, model and outcome",
			},
			[]string{"expert", "model", "outcome"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_expert_call_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"expert", "model"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_cache_lookups_total",
				Help: "Response cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		fallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_fallbacks_total",
				Help: "Fallbacks from one expert to another after a rate limit",
			},
			[]string{"from", "to"},
		),
		rateLimitedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_rate_limited_total",
				Help: "Rate-limit events by model and reason",
			},
			[]string{"model", "reason"},
		),
		runningTasks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "switchboard_running_tasks",
				Help: "Background tasks currently running per model",
			},
			[]string{"model"},
		),
		phaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_phase_duration_seconds",
				Help:    "Workflow phase duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase", "status"},
		),
		workflowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_workflows_total",
				Help: "Finished workflows by outcome",
			},
			[]string{"outcome"},
		),
		workflowDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "switchboard_workflow_duration_seconds",
				Help:    "Workflow duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
	}
}

// ObserveCall implements Recorder.
func (p *PrometheusRecorder) ObserveCall(expertID, model, outcome string, duration time.Duration) {
	p.callsTotal.WithLabelValues(expertID, model, outcome).Inc()
	p.callDuration.WithLabelValues(expertID, model).Observe(duration.Seconds())
}

// IncCache implements Recorder.
func (p *PrometheusRecorder) IncCache(outcome string) {
	p.cacheTotal.WithLabelValues(outcome).Inc()
}

// IncFallback implements Recorder.
func (p *PrometheusRecorder) IncFallback(from, to string) {
	p.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// IncRateLimited implements Recorder.
func (p *PrometheusRecorder) IncRateLimited(model, reason string) {
	p.rateLimitedTotal.WithLabelValues(model, reason).Inc()
}

// SetRunning implements Recorder.
func (p *PrometheusRecorder) SetRunning(model string, n int) {
	p.runningTasks.WithLabelValues(model).Set(float64(n))
}

// ObservePhase implements Recorder.
func (p *PrometheusRecorder) ObservePhase(phase string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.phaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// ObserveWorkflow implements Recorder.
func (p *PrometheusRecorder) ObserveWorkflow(outcome string, duration time.Duration) {
	p.workflowsTotal.WithLabelValues(outcome).Inc()
	p.workflowDuration.Observe(duration.Seconds())
}
