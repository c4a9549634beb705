package observability

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_NoEndpointIsNoop(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{ServiceName: "mdlinks"})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if tp.Enabled() {
		t.Fatal("tracing should be disabled without an endpoint")
	}
	if tp.Tracer() == nil {
		t.Fatal("expected a tracer")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1.0: sdktrace.AlwaysSample().Description(),
		2.0: sdktrace.AlwaysSample().Description(),
		0:   sdktrace.NeverSample().Description(),
		-1:  sdktrace.NeverSample().Description(),
		0.5: sdktrace.TraceIDRatioBased(0.5).Description(),
	}
	for rate, want := range cases {
		if got := Sampler(rate).Description(); got != want {
			t.Errorf("Sampler(%v) = %s, want %s", rate, got, want)
		}
	}
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := provider.Tracer(TracerName).Start(context.Background(), "op")
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	if ended[0].Status().Description != "boom" {
		t.Errorf("status = %+v", ended[0].Status())
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("expected one error event, got %d", len(ended[0].Events()))
	}
}
