package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := newSampler(tt.rate).Description(); got != tt.want {
			t.Errorf("newSampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(&TracingConfig{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := res.Set().Value("service.name"); !ok || v.AsString() != "bugtracker" {
		t.Fatalf("expected default service name, got %v", v)
	}
	if v, ok := res.Set().Value("service.version"); !ok || v.AsString() != "1.2.3" {
		t.Fatalf("expected service version, got %v", v)
	}
	if _, ok := res.Set().Value("deployment.environment"); ok {
		t.Fatal("expected no environment attribute when unset")
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestCycleSpan_Attributes(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartCycleSpan(context.Background(), "c1", "870032", 4, 100)
	RecordCycleResult(span, "done", 12, 1)
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "cycle" {
		t.Fatalf("expected span name cycle, got %s", s.Name())
	}
	if v, _ := attr(s.Attributes(), "cycle.root"); v.AsString() != "870032" {
		t.Fatalf("expected root attribute, got %v", v)
	}
	if v, _ := attr(s.Attributes(), "cycle.nodes"); v.AsInt64() != 12 {
		t.Fatalf("expected 12 nodes, got %v", v)
	}
	if s.Status().Code != codes.Error {
		t.Fatal("expected error status with failures")
	}
}

func TestQuerySpan_NestedUnderCycle(t *testing.T) {
	rec := recordSpans(t)

	ctx, cycle := StartCycleSpan(context.Background(), "c1", "1", 2, 10)
	_, query := StartQuerySpan(ctx, 1, 10)
	RecordQueryResult(query, 7, 150*time.Millisecond)
	query.End()
	cycle.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	q := spans[0]
	if q.Name() != "query.depth_1" {
		t.Fatalf("unexpected span name %s", q.Name())
	}
	if q.Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Fatal("query span should be a child of the cycle span")
	}
	if v, _ := attr(q.Attributes(), "query.duration_ms"); v.AsInt64() != 150 {
		t.Fatalf("expected 150ms, got %v", v)
	}
}

func TestRecordError(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartQuerySpan(context.Background(), 0, 1)
	RecordError(span, nil)
	span.End()
	_, span = StartQuerySpan(context.Background(), 0, 1)
	RecordError(span, errors.New("boom"))
	span.End()

	spans := rec.Ended()
	if spans[0].Status().Code == codes.Error {
		t.Fatal("nil error should not set error status")
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatal("expected error status")
	}
	if len(spans[1].Events()) == 0 {
		t.Fatal("expected recorded error event")
	}
}

func TestTracerProvider_Shutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil provider, got: %v", err)
	}
}
