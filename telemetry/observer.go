// Package telemetry exports teax runtime activity through OpenTelemetry.
//
// Each activation becomes a span, every resolution a child span of its
// activation, and snapshot and resolution counts are recorded as metrics.
// The context handed to a resolver carries its span, so resolvers can
// attach their own child spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/comalice/teax"
)

const instrumentationName = "github.com/comalice/teax/telemetry"

// ErrInvalidConfig is returned by New for an unusable Config.
var ErrInvalidConfig = errors.New("invalid telemetry config")

// Config configures an Observer.
type Config struct {
	// Component names the observed component on every span and metric.
	Component string

	// TracerProvider is the tracer provider to use.
	// If nil, uses the global tracer provider.
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If nil, uses the global meter provider.
	MeterProvider metric.MeterProvider
}

// Observer implements teax.Observer with OpenTelemetry traces and metrics.
// Safe for concurrent use.
type Observer struct {
	component attribute.KeyValue
	tracer    trace.Tracer

	activations metric.Int64Counter
	snapshots   metric.Int64Counter
	resolutions metric.Int64Counter
	duration    metric.Float64Histogram

	mu    sync.Mutex
	spans map[string]trace.Span
}

// New creates an Observer. Register it with teax.WithObserver.
func New(cfg Config) (*Observer, error) {
	if cfg.Component == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("component name is required"))
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	o := &Observer{
		component: attribute.String("teax.component", cfg.Component),
		tracer:    tp.Tracer(instrumentationName),
		spans:     make(map[string]trace.Span),
	}
	meter := mp.Meter(instrumentationName)

	var err error
	if o.activations, err = meter.Int64Counter("teax.activations",
		metric.WithDescription("Activations started")); err != nil {
		return nil, err
	}
	if o.snapshots, err = meter.Int64Counter("teax.snapshots",
		metric.WithDescription("Snapshots emitted")); err != nil {
		return nil, err
	}
	if o.resolutions, err = meter.Int64Counter("teax.resolutions",
		metric.WithDescription("Resolutions finished")); err != nil {
		return nil, err
	}
	if o.duration, err = meter.Float64Histogram("teax.resolution.duration",
		metric.WithDescription("Resolution latency in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) ActivationStarted(ctx context.Context, activation string) {
	_, span := o.tracer.Start(ctx, "teax.activation",
		trace.WithAttributes(o.component, attribute.String("teax.activation", activation)))
	o.mu.Lock()
	o.spans[activation] = span
	o.mu.Unlock()
	o.activations.Add(ctx, 1, metric.WithAttributes(o.component))
}

func (o *Observer) ActivationStopped(_ context.Context, activation string, err error) {
	o.mu.Lock()
	span, ok := o.spans[activation]
	delete(o.spans, activation)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *Observer) SnapshotEmitted(ctx context.Context, _ string, kind teax.SnapshotKind) {
	o.snapshots.Add(ctx, 1, metric.WithAttributes(o.component, attribute.String("teax.kind", kind.String())))
}

func (o *Observer) ResolutionStarted(ctx context.Context, activation string, command any) context.Context {
	o.mu.Lock()
	parent, ok := o.spans[activation]
	o.mu.Unlock()
	if ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	ctx, _ = o.tracer.Start(ctx, "teax.resolve",
		trace.WithAttributes(o.component, attribute.String("teax.command", fmt.Sprint(command))))
	return ctx
}

func (o *Observer) ResolutionFinished(ctx context.Context, _ string, d time.Duration, err error) {
	status := "success"
	span := trace.SpanFromContext(ctx)
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	attrs := metric.WithAttributes(o.component, attribute.String("teax.status", status))
	o.resolutions.Add(ctx, 1, attrs)
	o.duration.Record(ctx, d.Seconds(), metric.WithAttributes(o.component))
}

var _ teax.Observer = (*Observer)(nil)
