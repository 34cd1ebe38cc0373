// Package observability provides OpenTelemetry tracing and RED metrics
// (rate, errors, duration) for the proof pipeline, keyed by stage. The
// generation success-rate target lives in dashboards derived from these
// metrics; nothing in the call path checks it.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
}

// Provider manages the trace and metric providers. A nil or disabled
// Provider is safe to use everywhere; instrumentation becomes no-ops.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	stageCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	stageDuration metric.Float64Histogram
	inFlight      metric.Int64UpDownCounter
}

// New initializes OTLP export. With cfg.Enabled false it returns a
// no-op provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{
		logger: slog.Default().With("component", "observability"),
	}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer("medhash")
	meter := otel.Meter("medhash")

	if p.stageCounter, err = meter.Int64Counter("medhash.stage.calls",
		metric.WithDescription("Pipeline stage invocations")); err != nil {
		return nil, err
	}
	if p.errorCounter, err = meter.Int64Counter("medhash.stage.errors",
		metric.WithDescription("Pipeline stage failures")); err != nil {
		return nil, err
	}
	if p.stageDuration, err = meter.Float64Histogram("medhash.stage.duration",
		metric.WithDescription("Pipeline stage duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if p.inFlight, err = meter.Int64UpDownCounter("medhash.stage.in_flight",
		metric.WithDescription("Pipeline stages currently executing")); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

// StartStage records the start of a pipeline stage and returns a finish
// callback that records duration and outcome. Safe on a nil provider.
func (p *Provider) StartStage(ctx context.Context, stage string) func(err error) {
	if p == nil || p.stageCounter == nil {
		return func(error) {}
	}

	attrs := metric.WithAttributes(attribute.String("stage", stage))
	start := time.Now()
	p.stageCounter.Add(ctx, 1, attrs)
	p.inFlight.Add(ctx, 1, attrs)

	_, span := p.tracer.Start(ctx, "pipeline."+stage)

	return func(err error) {
		p.inFlight.Add(ctx, -1, attrs)
		p.stageDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			p.errorCounter.Add(ctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
