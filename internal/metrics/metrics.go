package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. All recording methods are safe to
// call on a nil *Registry, so components can run without metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics (receiver)
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Gateway
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec

	// Quota
	quotaUsed       *prometheus.GaugeVec
	quotaLimit      *prometheus.GaugeVec
	quotaRejections *prometheus.CounterVec

	// Credentials
	rotations *prometheus.CounterVec

	// Stream
	streamState      prometheus.Gauge
	streamReconnects prometheus.Counter
	streamEvents     *prometheus.CounterVec
	streamDropped    *prometheus.CounterVec

	// Strategy
	strategyIterations prometheus.Counter
	strategyDuration   prometheus.Histogram
	intents            *prometheus.CounterVec
	symbolErrors       *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_gateway_requests_total",
			Help: "Total number of requests sent to the signal service",
		},
		[]string{"endpoint", "outcome"},
	)
	r.gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinkclaw_gateway_request_duration_seconds",
			Help:    "Signal service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	r.quotaUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tinkclaw_quota_used",
			Help: "Calls used today per credential",
		},
		[]string{"credential"},
	)
	r.quotaLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tinkclaw_quota_limit",
			Help: "Daily call limit per credential",
		},
		[]string{"credential"},
	)
	r.quotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_quota_rejections_total",
			Help: "Calls refused locally because the daily quota was exhausted",
		},
		[]string{"credential"},
	)
	r.rotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_key_rotations_total",
			Help: "Credential rotation attempts",
		},
		[]string{"status"},
	)
	r.streamState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinkclaw_stream_state",
			Help: "Stream connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		},
	)
	r.streamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinkclaw_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts",
		},
	)
	r.streamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_stream_events_total",
			Help: "Push events received by channel",
		},
		[]string{"channel"},
	)
	r.streamDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_stream_events_dropped_total",
			Help: "Push events dropped by reason",
		},
		[]string{"reason"},
	)
	r.strategyIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tinkclaw_strategy_iterations_total",
			Help: "Total number of strategy iterations completed",
		},
	)
	r.strategyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinkclaw_strategy_iteration_duration_seconds",
			Help:    "Strategy iteration duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
	r.intents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_intents_total",
			Help: "Order intents by side and outcome",
		},
		[]string{"side", "outcome"},
	)
	r.symbolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinkclaw_symbol_errors_total",
			Help: "Per-symbol failures isolated by the strategy loop",
		},
		[]string{"stage"},
	)

	reg.MustRegister(r.gatewayRequests)
	reg.MustRegister(r.gatewayDuration)
	reg.MustRegister(r.quotaUsed)
	reg.MustRegister(r.quotaLimit)
	reg.MustRegister(r.quotaRejections)
	reg.MustRegister(r.rotations)
	reg.MustRegister(r.streamState)
	reg.MustRegister(r.streamReconnects)
	reg.MustRegister(r.streamEvents)
	reg.MustRegister(r.streamDropped)
	reg.MustRegister(r.strategyIterations)
	reg.MustRegister(r.strategyDuration)
	reg.MustRegister(r.intents)
	reg.MustRegister(r.symbolErrors)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordGatewayCall records one call to the signal service.
func (r *Registry) RecordGatewayCall(endpoint, outcome string, duration float64) {
	if r == nil {
		return
	}
	r.gatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	r.gatewayDuration.WithLabelValues(endpoint).Observe(duration)
}

// SetQuota publishes today's usage for a credential.
func (r *Registry) SetQuota(credential string, used, limit int) {
	if r == nil {
		return
	}
	r.quotaUsed.WithLabelValues(credential).Set(float64(used))
	r.quotaLimit.WithLabelValues(credential).Set(float64(limit))
}

// RecordQuotaRejection records a call refused by the local quota gate.
func (r *Registry) RecordQuotaRejection(credential string) {
	if r == nil {
		return
	}
	r.quotaRejections.WithLabelValues(credential).Inc()
}

// RecordRotation records a credential rotation attempt.
func (r *Registry) RecordRotation(status string) {
	if r == nil {
		return
	}
	r.rotations.WithLabelValues(status).Inc()
}

// SetStreamState publishes the numeric stream state.
func (r *Registry) SetStreamState(state int) {
	if r == nil {
		return
	}
	r.streamState.Set(float64(state))
}

// RecordReconnect records a reconnect attempt.
func (r *Registry) RecordReconnect() {
	if r == nil {
		return
	}
	r.streamReconnects.Inc()
}

// RecordStreamEvent records a delivered push event.
func (r *Registry) RecordStreamEvent(channel string) {
	if r == nil {
		return
	}
	r.streamEvents.WithLabelValues(channel).Inc()
}

// RecordStreamDrop records a dropped push event.
func (r *Registry) RecordStreamDrop(reason string) {
	if r == nil {
		return
	}
	r.streamDropped.WithLabelValues(reason).Inc()
}

// RecordIteration records a strategy iteration completion.
func (r *Registry) RecordIteration(duration float64) {
	if r == nil {
		return
	}
	r.strategyIterations.Inc()
	r.strategyDuration.Observe(duration)
}

// RecordIntent records an intent outcome (filled, advisory, failed, rejected).
func (r *Registry) RecordIntent(side, outcome string) {
	if r == nil {
		return
	}
	r.intents.WithLabelValues(side, outcome).Inc()
}

// RecordSymbolError records an isolated per-symbol failure.
func (r *Registry) RecordSymbolError(stage string) {
	if r == nil {
		return
	}
	r.symbolErrors.WithLabelValues(stage).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
