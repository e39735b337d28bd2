package telemetry

import (
	"context"
	"testing"
)

func TestNewNoopHasWorkingShutdown(t *testing.T) {
	p := NewNoop()
	if p.TracerProvider == nil {
		t.Fatal("expected a non-nil noop tracer provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("noop Shutdown: %v", err)
	}
}

func TestNewOTLPWithoutEndpointFallsBackToNoop(t *testing.T) {
	p, err := NewOTLP(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewOTLP: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestServiceNameDefaultsWhenUnset(t *testing.T) {
	if got := serviceName(Config{}); got != "securer" {
		t.Errorf("expected default service name securer, got %q", got)
	}
	if got := serviceName(Config{ServiceName: "custom"}); got != "custom" {
		t.Errorf("expected custom service name to be honored, got %q", got)
	}
}

func TestNewExporterGRPCIsDefaultProtocol(t *testing.T) {
	// otlptracegrpc.New dials lazily, so constructing the exporter does
	// not require a live collector endpoint.
	exp, err := newExporter(context.Background(), Config{Endpoint: "localhost:4317"})
	if err != nil {
		t.Fatalf("newExporter: %v", err)
	}
	if exp == nil {
		t.Fatal("expected a non-nil exporter")
	}
}

func TestNewExporterHTTPProtocol(t *testing.T) {
	exp, err := newExporter(context.Background(), Config{Endpoint: "localhost:4318", Protocol: ProtocolHTTP})
	if err != nil {
		t.Fatalf("newExporter: %v", err)
	}
	if exp == nil {
		t.Fatal("expected a non-nil exporter")
	}
}
