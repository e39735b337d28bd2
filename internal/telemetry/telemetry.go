// Package telemetry builds the OTel tracer provider (C11): a noop
// provider by default, or an OTLP exporter (gRPC or HTTP) when tracing
// is configured, following the same opt-in shape as goclaw's gateway
// trace collector.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Protocol selects the OTLP wire transport.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// Config configures an OTLP-backed tracer provider. A zero-value
// Endpoint means tracing is disabled and NewNoop should be used instead.
type Config struct {
	ServiceName string
	Endpoint    string
	Protocol    Protocol
	Insecure    bool
	SampleRatio float64 // 0 means "use AlwaysSample"
}

// Provider wraps a trace.TracerProvider along with the shutdown hook
// callers must run at exit to flush pending spans.
type Provider struct {
	TracerProvider trace.TracerProvider
	Shutdown       func(context.Context) error
}

// NewNoop returns a provider that records no spans, for callers running
// with tracing disabled. Shutdown is a no-op.
func NewNoop() *Provider {
	return &Provider{
		TracerProvider: trace.NewNoopTracerProvider(),
		Shutdown:       func(context.Context) error { return nil },
	}
}

// NewOTLP builds an SDK tracer provider exporting to an OTLP collector
// over the configured protocol, registers it as the global provider and
// propagator, and returns it along with a Shutdown func that flushes and
// closes the exporter.
func NewOTLP(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return NewNoop(), nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(semconv.ServiceName(serviceName(cfg))),
		sdkresource.WithHost(),
		sdkresource.WithProcess(),
	)
	if err != nil {
		slog.Warn("telemetry: resource detection failed, continuing with minimal resource", "error", err)
		res = sdkresource.NewSchemaless(semconv.ServiceName(serviceName(cfg)))
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		TracerProvider: tp,
		Shutdown: func(shutdownCtx context.Context) error {
			return tp.Shutdown(shutdownCtx)
		},
	}, nil
}

func serviceName(cfg Config) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "securer"
}

func newExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	switch cfg.Protocol {
	case ProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(10 * time.Second),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}
