package telemetry

import (
	"context"
	"fmt"
)

// Telemetry bundles the logger, tracer, and metrics behind one handle so
// components can share a single observability surface.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for the telemetry bundle.
type telemetryContextKey struct{}

// NewTelemetry creates a fully initialized telemetry bundle from the
// configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns a telemetry bundle that records nothing.
// Intended for tests and embedded use.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(MetricsConfig{})
	return &Telemetry{
		Logger:  Nop(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// WithContext attaches the telemetry bundle and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry bundle from the context,
// falling back to a no-op bundle.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return NewNopTelemetry()
}

// StartMetricsServer starts the metrics HTTP server in a goroutine when
// metrics are enabled.
func (t *Telemetry) StartMetricsServer() {
	if t.Metrics == nil || !t.Config.Metrics.Enabled {
		return
	}
	go func() {
		if err := t.Metrics.Serve(); err != nil {
			t.Logger.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Shutdown flushes and releases telemetry resources.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down tracer: %w", err)
		}
	}
	return nil
}
