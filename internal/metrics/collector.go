package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the Prometheus instruments for the service. All
// record methods are nil-safe so call sites never need to guard for a
// disabled collector.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM completions
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// Engine turns
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// Specialist executions
	specialistRunsTotal   *prometheus.CounterVec
	specialistRunDuration *prometheus.HistogramVec

	// Tool calls
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// Human-in-the-loop
	interruptsRaisedTotal   *prometheus.CounterVec
	consentResolutionsTotal *prometheus.CounterVec

	// Corrective retrieval
	correctionsTotal *prometheus.CounterVec

	// Checkpoint store
	checkpointOpsTotal  *prometheus.CounterVec
	checkpointOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the service instruments on the given
// registerer. Pass nil to use the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM completion requests",
		},
		[]string{"purpose", "status"},
	)
	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM completion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_turns_total",
			Help:      "Total number of engine turns by outcome",
		},
		[]string{"outcome"}, // answered, awaiting_consent, error
	)
	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_turn_duration_seconds",
			Help:      "Engine turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	c.specialistRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "specialist_runs_total",
			Help:      "Total number of specialist invocations",
		},
		[]string{"specialist", "status"}, // ok, failed, suspended
	)
	c.specialistRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "specialist_run_duration_seconds",
			Help:      "Specialist invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"specialist"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)
	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	c.interruptsRaisedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_interrupts_raised_total",
			Help:      "Total number of consent interrupts raised",
		},
		[]string{"tool"},
	)
	c.consentResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_resolutions_total",
			Help:      "Total number of consent resolutions by kind",
		},
		[]string{"kind"}, // accept, deny, edit
	)

	c.correctionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrective_retrievals_total",
			Help:      "Total number of corrective retrieval injections",
		},
		[]string{"tool"},
	)

	c.checkpointOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_operations_total",
			Help:      "Total number of checkpoint store operations",
		},
		[]string{"operation", "status"},
	)
	c.checkpointOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_operation_duration_seconds",
			Help:      "Checkpoint store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordLLMRequest records one completion call. purpose distinguishes
// classification, planning, specialist, synthesis and rewrite calls.
func (c *Collector) RecordLLMRequest(purpose, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(purpose, status).Inc()
	c.llmRequestDuration.WithLabelValues(purpose).Observe(duration.Seconds())
}

// RecordTurn records one completed engine turn.
func (c *Collector) RecordTurn(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSpecialistRun records one specialist invocation.
func (c *Collector) RecordSpecialistRun(specialist, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.specialistRunsTotal.WithLabelValues(specialist, status).Inc()
	c.specialistRunDuration.WithLabelValues(specialist).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation.
func (c *Collector) RecordToolCall(tool string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordInterruptRaised records a consent interrupt being raised.
func (c *Collector) RecordInterruptRaised(tool string) {
	if c == nil {
		return
	}
	c.interruptsRaisedTotal.WithLabelValues(tool).Inc()
}

// RecordConsentResolution records a user's consent decision.
func (c *Collector) RecordConsentResolution(kind string) {
	if c == nil {
		return
	}
	c.consentResolutionsTotal.WithLabelValues(kind).Inc()
}

// RecordCorrection records a corrective retrieval injection.
func (c *Collector) RecordCorrection(tool string) {
	if c == nil {
		return
	}
	c.correctionsTotal.WithLabelValues(tool).Inc()
}

// RecordCheckpointOp records one checkpoint store operation.
func (c *Collector) RecordCheckpointOp(operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.checkpointOpsTotal.WithLabelValues(operation, status).Inc()
	c.checkpointOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status for the counter label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
