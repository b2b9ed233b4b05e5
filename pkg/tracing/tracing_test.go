package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName:    "eventsphere-api",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		Attributes:     map[string]string{"team": "platform", "region": "eu"},
	})

	want := []attribute.KeyValue{
		attribute.String("service.name", "eventsphere-api"),
		attribute.String("service.version", "1.2.3"),
		attribute.String("deployment.environment", "staging"),
		attribute.String("region", "eu"),
		attribute.String("team", "platform"),
	}
	if len(attrs) != len(want) {
		t.Fatalf("got %d attributes, want %d: %v", len(attrs), len(want), attrs)
	}
	for i := range want {
		if attrs[i] != want[i] {
			t.Errorf("attrs[%d] = %v, want %v", i, attrs[i], want[i])
		}
	}
}

func TestResourceAttributesOmitsEmpty(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "eventsphere-worker"})
	if len(attrs) != 1 {
		t.Fatalf("attrs = %v, want service name only", attrs)
	}
}

func TestClampRatio(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.25, 0.25}, {1, 1}, {7, 1},
	}
	for _, tt := range tests {
		if got := clampRatio(tt.in); got != tt.want {
			t.Errorf("clampRatio(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	if len(fields) == 0 {
		t.Error("expected W3C propagators to be installed")
	}
}
