package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/isometry/groupsync/internal/logging"
)

const instrumentationName = "github.com/isometry/groupsync"

// Config selects the span exporter.
type Config struct {
	Enabled      bool
	HTTPEndpoint string    // OTLP/HTTP collector URL; empty exports to Writer
	Writer       io.Writer // stdout exporter destination, defaults to stderr
	Logger       logging.Logger
}

// NewConfig builds a tracing configuration.
func NewConfig(enabled bool, httpEndpoint string, logger logging.Logger) *Config {
	return &Config{
		Enabled:      enabled,
		HTTPEndpoint: httpEndpoint,
		Writer:       os.Stderr,
		Logger:       logger,
	}
}

// Tracer creates spans and owns the provider that exports them.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logging.Logger
}

// NewTracer returns a noop tracer when tracing is disabled or the exporter
// cannot be built.
func NewTracer(cfg *Config) *Tracer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	t := &Tracer{
		tracer: noop.NewTracerProvider().Tracer(instrumentationName),
		logger: logger,
	}
	if !cfg.Enabled {
		return t
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		logger.Error("Tracing disabled, exporter setup failed", map[string]any{"error": err.Error()})
		return t
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "groupsync"))),
	)
	otel.SetTracerProvider(t.provider)
	t.tracer = t.provider.Tracer(instrumentationName)

	logger.Debug("Tracing enabled", map[string]any{"http_endpoint": cfg.HTTPEndpoint})
	return t
}

func newExporter(cfg *Config) (sdktrace.SpanExporter, error) {
	if cfg.HTTPEndpoint != "" {
		exporter, err := otlptracehttp.New(context.Background(), otlptracehttp.WithEndpointURL(cfg.HTTPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("create OTLP HTTP exporter: %w", err)
		}
		return exporter, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	return exporter, nil
}

func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// Shutdown flushes pending spans. It is safe on a noop tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
