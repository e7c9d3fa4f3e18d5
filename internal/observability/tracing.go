// Package observability provides OpenTelemetry tracing, Prometheus metrics
// and audit logging for the tracker.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracker's instrumentation scope.
const TracerName = "github.com/efebarandurmaz/bugtracker"

// TracingConfig selects where cycle and query spans go.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC host:port. Empty keeps the global no-op
	// provider, so spans cost nothing.
	OTLPEndpoint string
	// SampleRate is the fraction of cycles traced; 1 traces all of them.
	SampleRate float64
}

// TracerProvider owns the exporting provider, if one was installed.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global provider exporting to cfg.OTLPEndpoint.
// A nil cfg or an empty endpoint leaves tracing off.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil || cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(newSampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

func newResource(cfg *TracingConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "bugtracker"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	// Schemaless, so the merge never conflicts with the SDK's schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// newSampler clamps rate to [0, 1].
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Shutdown flushes and stops the exporter. It is a no-op when tracing is
// off.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the provider's tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span kinds recorded under "tracker.span.kind".
const (
	SpanKindCycle = "cycle"
	SpanKindQuery = "query"
)

// StartCycleSpan starts the span covering one fetch cycle.
func StartCycleSpan(ctx context.Context, cycleID, root string, maxDepth, chunkSize int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tracker.span.kind", SpanKindCycle),
			attribute.String("cycle.id", cycleID),
			attribute.String("cycle.root", root),
			attribute.Int("cycle.max_depth", maxDepth),
			attribute.Int("cycle.chunk_size", chunkSize),
		),
	)
}

// RecordCycleResult sets the final state on a cycle span. Any failed query
// marks the span as an error.
func RecordCycleResult(span trace.Span, state string, nodes, failures int) {
	span.SetAttributes(
		attribute.String("cycle.state", state),
		attribute.Int("cycle.nodes", nodes),
		attribute.Int("cycle.failures", failures),
	)
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failed queries", failures))
	}
}

// StartQuerySpan starts a span for one remote query.
func StartQuerySpan(ctx context.Context, depth, ids int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, fmt.Sprintf("query.depth_%d", depth),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tracker.span.kind", SpanKindQuery),
			attribute.Int("query.depth", depth),
			attribute.Int("query.ids", ids),
		),
	)
}

// RecordQueryResult records a query's result size and latency on its span.
func RecordQueryResult(span trace.Span, bugs int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("query.bugs", bugs),
		attribute.Int64("query.duration_ms", duration.Milliseconds()),
	)
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
