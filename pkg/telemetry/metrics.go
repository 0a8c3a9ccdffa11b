package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the dispatcher and the browser
// session pool. A disabled Metrics instance is a safe no-op.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
	capabilityDenials   *prometheus.CounterVec

	// Browser session metrics
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsEvicted prometheus.Counter
	launchDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of module executions started",
			},
			[]string{"module_id", "environment"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of module executions completed",
			},
			[]string{"module_id", "status", "error_code"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of module execution in seconds",
				Buckets:   buckets,
			},
			[]string{"module_id", "status"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"module_id", "error_code"},
		),
		capabilityDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_denials_total",
				Help:      "Total number of capability policy denials",
			},
			[]string{"module_id", "environment"},
		),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_sessions_active",
			Help:      "Current number of pooled browser sessions",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_created_total",
			Help:      "Total number of browser sessions launched",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_evicted_total",
			Help:      "Total number of browser sessions closed by idle eviction",
		}),
		launchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "browser_launch_duration_seconds",
			Help:      "Duration of browser process launches in seconds",
			Buckets:   buckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.retriesTotal,
		m.capabilityDenials,
		m.sessionsActive,
		m.sessionsCreated,
		m.sessionsEvicted,
		m.launchDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// ExecutionStarted records the start of a module execution.
func (m *Metrics) ExecutionStarted(moduleID, environment string) {
	if m.registry == nil {
		return
	}
	m.executionsStarted.WithLabelValues(moduleID, environment).Inc()
}

// ExecutionCompleted records a finished module execution.
func (m *Metrics) ExecutionCompleted(moduleID, status, errorCode string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(moduleID, status, errorCode).Inc()
	m.executionDuration.WithLabelValues(moduleID, status).Observe(duration.Seconds())
}

// RetryAttempted records one retry attempt.
func (m *Metrics) RetryAttempted(moduleID, errorCode string) {
	if m.registry == nil {
		return
	}
	m.retriesTotal.WithLabelValues(moduleID, errorCode).Inc()
}

// CapabilityDenied records a capability policy denial.
func (m *Metrics) CapabilityDenied(moduleID, environment string) {
	if m.registry == nil {
		return
	}
	m.capabilityDenials.WithLabelValues(moduleID, environment).Inc()
}

// SessionOpened records a new pooled browser session and its launch time.
func (m *Metrics) SessionOpened(launchTime time.Duration) {
	if m.registry == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
	m.launchDuration.Observe(launchTime.Seconds())
}

// SessionClosed records a closed pooled browser session. evicted marks
// closures performed by the idle sweep.
func (m *Metrics) SessionClosed(evicted bool) {
	if m.registry == nil {
		return
	}
	m.sessionsActive.Dec()
	if evicted {
		m.sessionsEvicted.Inc()
	}
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks until the server stops.
func (m *Metrics) Serve() error {
	if m.registry == nil {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
