// Package telemetry provides structured logging, distributed tracing,
// and metrics collection for the loom engine.
//
// Logging is built on zerolog with component-scoped child loggers and
// context propagation. Tracing uses OpenTelemetry with OTLP or stdout
// exporters. Metrics are exposed through a Prometheus registry with an
// optional HTTP endpoint.
//
// Typical setup at process start:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
//	metrics, err := telemetry.NewMetrics(cfg.Metrics)
//
// Components receive child loggers via NewComponentLogger and attach
// run/series/phase fields with the With* helpers so every record of a
// run can be correlated after the fact.
package telemetry
