package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"microsim/internal/core"
)

const instrumentation = "microsim"

// OTelTracer opens one OpenTelemetry span per top-level calculation.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer takes its tracer from provider.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer(instrumentation)}
}

// Start implements the engine's Tracer.
func (t *OTelTracer) Start(ctx context.Context, op string) (context.Context, core.TraceSpan) {
	kind, variable := splitOperation(op)
	ctx, span := t.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("microsim.operation", kind),
		attribute.String("microsim.variable", variable),
	))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// OTelMetricsRecorder records calculations as OpenTelemetry instruments.
type OTelMetricsRecorder struct {
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTelMetricsRecorder creates its instruments on provider's meter.
func NewOTelMetricsRecorder(provider metric.MeterProvider) (*OTelMetricsRecorder, error) {
	meter := provider.Meter(instrumentation)
	calls, err := meter.Int64Counter("microsim.calculations", metric.WithDescription("Top-level variable calculations."))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("microsim.calculation.errors", metric.WithDescription("Failed top-level calculations."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("microsim.calculation.duration", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &OTelMetricsRecorder{calls: calls, errors: errs, duration: duration}, nil
}

// Observe implements the engine's MetricsRecorder.
func (r *OTelMetricsRecorder) Observe(ctx context.Context, op string, success bool, d time.Duration) {
	if op == "" {
		return
	}
	_, variable := splitOperation(op)
	attrs := metric.WithAttributes(attribute.String("variable", variable))
	r.calls.Add(ctx, 1, attrs)
	if !success {
		r.errors.Add(ctx, 1, attrs)
	}
	r.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

var (
	_ core.Tracer          = (*OTelTracer)(nil)
	_ core.MetricsRecorder = (*OTelMetricsRecorder)(nil)
	_ core.MetricsRecorder = (*PrometheusRecorder)(nil)
)
