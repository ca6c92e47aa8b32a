package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"pkm-assistant/internal/config"
)

const (
	tracerScope = "pkm-assistant.workflow"

	// SpanClassify covers the Classifier/Enhanced Filter's decision.
	SpanClassify = "pkm.classify"
	// SpanExtractContent covers the LLM content-extraction call.
	SpanExtractContent = "pkm.extract_content"
	// SpanAnalyzePage covers the LLM page-analysis call.
	SpanAnalyzePage = "pkm.analyze_page"
	// SpanTreeReconcile covers tree assignment and intention reconciliation.
	SpanTreeReconcile = "pkm.tree_reconcile"

	attrVisitID = "pkm.visit_id"
	attrURL     = "pkm.url"
	attrStatus  = "pkm.status"
)

// InitTracing configures the global TracerProvider according to cfg's
// trace_exporter, returning a shutdown func to flush and close it. When
// trace_exporter is "none" (the default), tracing is a no-op and shutdown
// does nothing.
func InitTracing(ctx context.Context, cfg config.ObservabilityConfig) (func(context.Context) error, error) {
	if cfg.TraceExporter == "" || cfg.TraceExporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init trace exporter %s: %w", cfg.TraceExporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("pkm-assistant"),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch cfg.TraceExporter {
	case "otlphttp":
		opts := []otlptracehttp.Option{}
		if cfg.TraceEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.TraceEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	case "jaeger":
		endpoint := cfg.TraceEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:14268/api/traces"
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	case "zipkin":
		endpoint := cfg.TraceEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		return zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.TraceExporter)
	}
}

// StartWorkflowSpan starts a span for one Reconciliation Workflow step,
// tagging it with the visit id and URL so a visit's trace can be followed
// end to end, in the teacher's startReactSpan idiom.
func StartWorkflowSpan(ctx context.Context, spanName, visitID, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerScope).Start(ctx, spanName, trace.WithAttributes(
		attribute.String(attrVisitID, visitID),
		attribute.String(attrURL, url),
	))
}

// EndSpan records err (if any) on span and closes it, the teacher's
// markSpanResult idiom.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(attrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(attrStatus, "success"))
}
