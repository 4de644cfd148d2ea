package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/DoyleJ11/lobby-sync"

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: with an empty endpoint Setup returns a no-op shutdown
// function and no global provider is registered. The returned shutdown
// flushes pending spans and should be deferred by the caller.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func Tracer() trace.Tracer { return otel.Tracer(instrumentation) }

// Metrics counts the events operators care about when the start barrier
// degrades: timeouts per phase and sessions entered per kind.
type Metrics struct {
	timeouts metric.Int64Counter
	entered  metric.Int64Counter
}

func NewMetrics() *Metrics {
	return NewMetricsFrom(otel.GetMeterProvider())
}

func NewMetricsFrom(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(instrumentation)
	fallback := noop.NewMeterProvider().Meter(instrumentation)

	timeouts, err := meter.Int64Counter("lobby.barrier.timeouts",
		metric.WithDescription("Start barrier waits that gave up and proceeded"))
	if err != nil {
		timeouts, _ = fallback.Int64Counter("lobby.barrier.timeouts")
	}
	entered, err := meter.Int64Counter("lobby.sessions.entered",
		metric.WithDescription("Sessions entered, by how they were entered"))
	if err != nil {
		entered, _ = fallback.Int64Counter("lobby.sessions.entered")
	}
	return &Metrics{timeouts: timeouts, entered: entered}
}

func (m *Metrics) BarrierTimeout(ctx context.Context, phase string) {
	m.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func (m *Metrics) SessionEntered(ctx context.Context, kind string) {
	m.entered.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
