// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentreplay_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsRecorded tracks events appended by recorders.
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_events_recorded_total",
			Help: "Events recorded, by event type",
		},
		[]string{"event_type"},
	)

	// SpansClosed tracks spans closed by recorders.
	SpansClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_spans_closed_total",
			Help: "Spans closed, by nesting level",
		},
		[]string{"level"},
	)

	// NestingViolations tracks out-of-order span closes.
	NestingViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentreplay_span_nesting_violations_total",
			Help: "Span closes attempted out of stack order",
		},
	)

	// TraceLoadDuration tracks how long parsing a persisted trace takes.
	TraceLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentreplay_trace_load_duration_seconds",
			Help:    "Time spent loading trace files",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"status"},
	)

	// ReplaySteps tracks cursor movements.
	ReplaySteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_replay_steps_total",
			Help: "Replay cursor movements, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	// DiffDivergences tracks divergences reported by the diff engine.
	DiffDivergences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_diff_divergences_total",
			Help: "Divergences found when diffing traces",
		},
		[]string{"severity", "category"},
	)

	// DiffDuration tracks alignment time.
	DiffDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentreplay_diff_duration_seconds",
			Help:    "Time spent aligning two traces",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// LLMTokensTotal tracks tokens processed by recorded LLM calls.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentreplay_llm_tokens_total",
			Help: "Total LLM tokens processed by recorded calls",
		},
		[]string{"model", "direction"},
	)

	// TracesCached tracks traces held by the library cache.
	TracesCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentreplay_traces_cached",
			Help: "Number of parsed traces held in memory by the API",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordReplayStep records one cursor operation.
func RecordReplayStep(op string, err error) {
	status := "ok"
	if err != nil {
		status = "out_of_range"
	}
	ReplaySteps.WithLabelValues(op, status).Inc()
}

// RecordLLMCall records token usage of a recorded LLM call.
func RecordLLMCall(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
