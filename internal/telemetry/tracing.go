package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type TraceConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// SampleRatio applies to root spans only. Values outside (0, 1] sample
	// everything.
	SampleRatio float64
}

// SetupTracing installs the global propagator and, unless the exporter is
// disabled, a batching tracer provider. The returned function flushes and
// stops it.
func SetupTracing(ctx context.Context, cfg TraceConfig, logger zerolog.Logger) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if kind == "" || kind == ExporterNone {
		logger.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, kind, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)

	logger.Info().
		Str("exporter", kind).
		Str("service", cfg.ServiceName).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("tracing enabled")
	return provider.Shutdown, nil
}

func newSpanExporter(ctx context.Context, kind string, cfg TraceConfig) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			return nil, errors.New("otlp exporter needs an endpoint")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
