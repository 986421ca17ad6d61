// Package metrics provides Prometheus metrics for the slingbot service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the slingbot service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Command surface
	commands   *prometheus.CounterVec
	shots      *prometheus.CounterVec
	utterances *prometheus.CounterVec

	// Actuator
	actuatorCalls       *prometheus.CounterVec
	actuatorCallErrors  *prometheus.CounterVec
	actuatorCallLatency *prometheus.HistogramVec
	sessionActive       prometheus.Gauge
	sessionErrors       prometheus.Counter
	reloadRetries       prometheus.Counter

	// Vision
	detectionCount prometheus.Gauge
	visionErrors   prometheus.Counter

	// Lifecycle
	lifecycleState *prometheus.GaugeVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "slingbot",
		subsystem:        "orchestration",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	factory := promauto.With(m.registry)

	m.commands = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commands_total",
		Help:      "Dispatched commands by verb and outcome.",
	}, []string{"verb", "outcome"})

	m.shots = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "shots_total",
		Help:      "Shot sequences by kind and outcome.",
	}, []string{"kind", "outcome"})

	m.utterances = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "utterances_total",
		Help:      "Received utterances by parse result.",
	}, []string{"result"})

	m.actuatorCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "actuator",
		Name:      "calls_total",
		Help:      "Actuator calls by action.",
	}, []string{"action"})

	m.actuatorCallErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "actuator",
		Name:      "call_errors_total",
		Help:      "Failed actuator calls by action.",
	}, []string{"action"})

	m.actuatorCallLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "actuator",
		Name:      "call_duration_seconds",
		Help:      "Actuator call latency by action.",
		Buckets:   m.histogramBuckets,
	}, []string{"action"})

	m.sessionActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "actuator",
		Name:      "session_active",
		Help:      "Whether an actuator session is established (0/1).",
	})

	m.sessionErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "actuator",
		Name:      "session_errors_total",
		Help:      "Failed session establishment attempts.",
	})

	m.reloadRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reload_retries_total",
		Help:      "Reload attempts that did not complete.",
	})

	m.detectionCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "vision",
		Name:      "detections",
		Help:      "Targets in the latest detection snapshot.",
	})

	m.visionErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "vision",
		Name:      "poll_errors_total",
		Help:      "Failed detection polls.",
	})

	m.lifecycleState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "lifecycle_state",
		Help:      "Current lifecycle state (1 on the active state).",
	}, []string{"state"})

	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status.",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by endpoint, method and status.",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// GetRegistry returns the custom registry used for exposition.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RecordCommand counts one dispatched command.
func RecordCommand(verb, outcome string) {
	if globalManager.enabled {
		globalManager.commands.WithLabelValues(verb, outcome).Inc()
	}
}

// RecordShot counts one shot sequence.
func RecordShot(kind, outcome string) {
	if globalManager.enabled {
		globalManager.shots.WithLabelValues(kind, outcome).Inc()
	}
}

// RecordUtterance counts one received utterance by parse result.
func RecordUtterance(parsed bool) {
	if !globalManager.enabled {
		return
	}
	result := "ignored"
	if parsed {
		result = "command"
	}
	globalManager.utterances.WithLabelValues(result).Inc()
}

// RecordActuatorCall records one actuator call with its latency.
func RecordActuatorCall(action string, d time.Duration, ok bool) {
	if !globalManager.enabled {
		return
	}
	globalManager.actuatorCalls.WithLabelValues(action).Inc()
	globalManager.actuatorCallLatency.WithLabelValues(action).Observe(d.Seconds())
	if !ok {
		globalManager.actuatorCallErrors.WithLabelValues(action).Inc()
	}
}

// UpdateSessionActive sets the session gauge.
func UpdateSessionActive(active bool) {
	if !globalManager.enabled {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	globalManager.sessionActive.Set(v)
}

// RecordSessionError counts one failed session establishment.
func RecordSessionError() {
	if globalManager.enabled {
		globalManager.sessionErrors.Inc()
	}
}

// RecordReloadRetry counts one failed reload attempt.
func RecordReloadRetry() {
	if globalManager.enabled {
		globalManager.reloadRetries.Inc()
	}
}

// UpdateDetectionCount sets the latest snapshot size.
func UpdateDetectionCount(n int) {
	if globalManager.enabled {
		globalManager.detectionCount.Set(float64(n))
	}
}

// RecordVisionError counts one failed detection poll.
func RecordVisionError() {
	if globalManager.enabled {
		globalManager.visionErrors.Inc()
	}
}

// lifecycleStates enumerates the gauge labels so the active state can be
// flipped exclusively.
var lifecycleStates = []string{"uninitialized", "idle", "busy", "terminated"} //nolint:gochecknoglobals // fixed label set

// UpdateLifecycleState marks the active lifecycle state.
func UpdateLifecycleState(state string) {
	if !globalManager.enabled {
		return
	}
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		globalManager.lifecycleState.WithLabelValues(s).Set(v)
	}
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, status string, durationMs float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(durationMs / 1000)
	}
}
