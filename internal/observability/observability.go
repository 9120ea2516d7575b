// Package observability wires OpenTelemetry tracing and metrics for the
// engines.
package observability

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "workflow-suite/core"

var (
	providerOnce sync.Once
	providerErr  error
	provider     *sdktrace.TracerProvider
)

// InitTracing installs a global tracer provider exporting spans to w (stdout
// when nil). Only the first call has an effect; later calls return the
// result of the first.
func InitTracing(serviceName, serviceVersion string, w io.Writer) (func(context.Context) error, error) {
	providerOnce.Do(func() {
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			providerErr = err
			return
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			providerErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	if providerErr != nil {
		return nil, providerErr
	}
	return provider.Shutdown, nil
}

// Instruments bundles the tracer and counters used by the engines.
type Instruments struct {
	tracer trace.Tracer

	InstancesStarted metric.Int64Counter
	Transitions      metric.Int64Counter
	Decisions        metric.Int64Counter
	Resolutions      metric.Int64Counter
}

// NewInstruments creates instruments from the global providers.
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsFrom(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewInstrumentsFrom creates instruments from explicit providers.
func NewInstrumentsFrom(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(instrumentationName)
	i := &Instruments{tracer: tp.Tracer(instrumentationName)}

	var err error
	if i.InstancesStarted, err = meter.Int64Counter("workflow.instances.started",
		metric.WithDescription("Workflow instances started")); err != nil {
		return nil, err
	}
	if i.Transitions, err = meter.Int64Counter("workflow.transitions",
		metric.WithDescription("Workflow instance transitions by action")); err != nil {
		return nil, err
	}
	if i.Decisions, err = meter.Int64Counter("approval.decisions",
		metric.WithDescription("Approval decisions recorded")); err != nil {
		return nil, err
	}
	if i.Resolutions, err = meter.Int64Counter("approval.resolutions",
		metric.WithDescription("Approval requests leaving pending")); err != nil {
		return nil, err
	}
	return i, nil
}

// StartSpan starts an internal span named name.
func (i *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Add increments counter by one with attrs.
func Add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
