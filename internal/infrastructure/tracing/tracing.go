// Package tracing installs the OpenTelemetry tracer provider used by the
// evaluation flow. Spans go to an OTLP/HTTP collector when an endpoint is
// configured and to stdout otherwise.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// Config controls tracing. Loaded with the OTEL_ prefix.
type Config struct {
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// host:port of an OTLP/HTTP collector; empty means stdout
	Endpoint string            `env:"EXPORTER_OTLP_ENDPOINT"`
	Headers  map[string]string `env:"EXPORTER_OTLP_HEADERS" envKeyValSeparator:"="`
	Insecure bool              `env:"EXPORTER_OTLP_INSECURE" envDefault:"false"`

	// Fraction of root traces sampled, 0-1
	SampleRatio float64 `env:"SAMPLER_RATIO" envDefault:"0.1"`

	BatchTimeout time.Duration `env:"BATCH_TIMEOUT" envDefault:"5s"`
}

// Service describes the process in the trace resource.
type Service struct {
	Name        string
	Environment string
	Version     string
}

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init builds the provider and installs it globally. When tracing is
// disabled the global no-op provider stays in place.
func Init(ctx context.Context, cfg Config, svc Service, log *logger.Logger) (ShutdownFunc, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg, os.Stdout)
	if err != nil {
		return noopShutdown, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := NewProvider(exporter, cfg, NewResource(svc))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		log.Warn("tracing to stdout, no OTLP endpoint configured")
	}
	log.Info("tracing initialized",
		logger.String("service", svc.Name),
		logger.String("endpoint", cfg.Endpoint),
		logger.Float64("sample_ratio", clampRatio(cfg.SampleRatio)),
	)
	return tp.Shutdown, nil
}

// NewProvider wires an exporter into a batching provider with a parent-based
// ratio sampler.
func NewProvider(exporter sdktrace.SpanExporter, cfg Config, res *resource.Resource) *sdktrace.TracerProvider {
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(timeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)
}

// NewResource describes the service.
func NewResource(svc Service) *resource.Resource {
	name := strings.TrimSpace(svc.Name)
	if name == "" {
		name = "tracking-carrera"
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(strings.TrimSpace(svc.Version)),
		attribute.String("deployment.environment", strings.TrimSpace(svc.Environment)),
	)
}

func newExporter(ctx context.Context, cfg Config, stdout io.Writer) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithWriter(stdout))
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
