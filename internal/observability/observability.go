package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Observability bundles the logger, metrics and tracer handed to components.
type Observability struct {
	Logger  *Logger
	Metrics *MetricsCollector
	Tracer  *TracerProvider
	Credits *CreditMetrics
}

// New builds every signal from cfg. Logs go to out (stdout when nil).
func New(cfg Config, out io.Writer) (*Observability, error) {
	logger := NewLogger(LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: out})

	metrics, err := NewMetricsCollector(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tracer, err := NewTracerProvider(cfg.Tracing)
	if err != nil {
		_ = metrics.Shutdown(context.Background())
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var credits *CreditMetrics
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Registerer != nil {
			credits = NewCreditMetricsWithRegisterer(cfg.Metrics.Registerer)
		} else {
			credits = NewCreditMetrics()
		}
	}

	return &Observability{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
		Credits: credits,
	}, nil
}

// NewNop returns an Observability that records nothing.
func NewNop() *Observability {
	tracer, _ := NewTracerProvider(TracingConfig{})
	return &Observability{
		Logger:  NewNopLogger(),
		Metrics: &MetricsCollector{},
		Tracer:  tracer,
	}
}

// Shutdown flushes exporters and stops the metrics server.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return errors.Join(o.Tracer.Shutdown(ctx), o.Metrics.Shutdown(ctx))
}
