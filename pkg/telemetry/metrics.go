package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for loom.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec

	// Agent metrics
	agentCalls    *prometheus.CounterVec
	agentDuration *prometheus.HistogramVec
	agentErrors   *prometheus.CounterVec

	// Artifact metrics
	artifactsWritten prometheus.Counter
	archiveEntries   prometheus.Counter

	// Build validation metrics
	buildChecks *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of command runs started",
			},
			[]string{"command", "series"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of command runs completed",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of command runs in seconds",
				Buckets:   buckets,
			},
			[]string{"command", "status"},
		),

		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of phases executed",
			},
			[]string{"type", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"type"},
		),

		agentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_calls_total",
				Help:      "Total number of agent invocations",
			},
			[]string{"agent"},
		),
		agentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_call_duration_seconds",
				Help:      "Duration of agent invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"agent"},
		),
		agentErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_errors_total",
				Help:      "Total number of agent invocation failures",
			},
			[]string{"agent"},
		),

		artifactsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_total",
				Help:      "Total number of artifacts written",
			},
		),
		archiveEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_entries_total",
				Help:      "Total number of archive entries created",
			},
		),

		buildChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_checks_total",
				Help:      "Total number of build validations",
			},
			[]string{"result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesExecuted,
		m.phaseDuration,
		m.agentCalls,
		m.agentDuration,
		m.agentErrors,
		m.artifactsWritten,
		m.archiveEntries,
		m.buildChecks,
		m.errorsByClass,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(command, series string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(command, series).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(command, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command, status).Observe(duration.Seconds())
}

// RecordPhaseExecution records the execution of a single phase.
func (m *Metrics) RecordPhaseExecution(phaseType, status string, duration time.Duration) {
	if m.phasesExecuted == nil {
		return
	}
	m.phasesExecuted.WithLabelValues(phaseType, status).Inc()
	m.phaseDuration.WithLabelValues(phaseType).Observe(duration.Seconds())
}

// RecordAgentCall records an agent invocation with its duration.
func (m *Metrics) RecordAgentCall(agent string, duration time.Duration) {
	if m.agentCalls == nil {
		return
	}
	m.agentCalls.WithLabelValues(agent).Inc()
	m.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordAgentError records an agent invocation failure.
func (m *Metrics) RecordAgentError(agent string) {
	if m.agentErrors == nil {
		return
	}
	m.agentErrors.WithLabelValues(agent).Inc()
}

// RecordArtifactWritten increments the artifact write counter.
func (m *Metrics) RecordArtifactWritten() {
	if m.artifactsWritten == nil {
		return
	}
	m.artifactsWritten.Inc()
}

// RecordArchiveEntry increments the archive entry counter.
func (m *Metrics) RecordArchiveEntry() {
	if m.archiveEntries == nil {
		return
	}
	m.archiveEntries.Inc()
}

// RecordBuildCheck records a build validation result.
func (m *Metrics) RecordBuildCheck(passed bool) {
	if m.buildChecks == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.buildChecks.WithLabelValues(result).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}
