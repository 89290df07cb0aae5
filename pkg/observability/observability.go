// Package observability provides OpenTelemetry-based tracing and
// metrics for the gridsplit ledger: OTLP export and RED (Rate, Errors,
// Duration) instruments for every ledger operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // e.g. "localhost:4317" for gRPC
	SampleRate     float64 // 0.0 to 1.0, default 1.0 (sample all)
	Enabled        bool
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "gridsplit-ledger",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		Enabled:        false,
	}
}

// Provider bundles the tracer, meter, and the ledger RED instruments.
type Provider struct {
	tracer        trace.Tracer
	meter         metric.Meter
	tp            *sdktrace.TracerProvider
	mp            *sdkmetric.MeterProvider
	opCount       metric.Int64Counter
	opErrors      metric.Int64Counter
	opDuration    metric.Float64Histogram
	auditEmitted  metric.Int64Counter
	overridesUsed metric.Int64Counter
}

// Init sets up OTLP tracing and metrics. With Enabled=false it returns
// a provider backed by the global no-op tracer and meter.
func Init(ctx context.Context, cfg *Config) (*Provider, error) {
	p := &Provider{}

	if cfg.Enabled {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
				semconv.DeploymentEnvironment(cfg.Environment),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: resource setup failed: %w", err)
		}

		traceExp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: trace exporter failed: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		)
		otel.SetTracerProvider(p.tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))

		metricExp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("observability: metric exporter failed: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.mp)

		slog.Info("observability enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	}

	p.tracer = otel.Tracer(cfg.ServiceName)
	p.meter = otel.Meter(cfg.ServiceName)
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.opCount, err = p.meter.Int64Counter("ledger.operations",
		metric.WithDescription("ledger operations by name and outcome")); err != nil {
		return err
	}
	if p.opErrors, err = p.meter.Int64Counter("ledger.operation_errors",
		metric.WithDescription("failed ledger operations by name and error kind")); err != nil {
		return err
	}
	if p.opDuration, err = p.meter.Float64Histogram("ledger.operation_duration_ms",
		metric.WithDescription("ledger operation latency in milliseconds")); err != nil {
		return err
	}
	if p.auditEmitted, err = p.meter.Int64Counter("ledger.audit_events",
		metric.WithDescription("audit events appended to the chain")); err != nil {
		return err
	}
	if p.overridesUsed, err = p.meter.Int64Counter("ledger.overrides",
		metric.WithDescription("administrative overrides supplied to ledger operations")); err != nil {
		return err
	}
	return nil
}

// StartOperation opens a span for a ledger operation and returns a
// closure that records the RED metrics for it.
func (p *Provider) StartOperation(ctx context.Context, name string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ledger."+name)
	return ctx, func(err error) {
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		attrs := metric.WithAttributes(attribute.String("operation", name))
		p.opCount.Add(ctx, 1, attrs)
		p.opDuration.Record(ctx, elapsed, attrs)
		if err != nil {
			p.opErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", name),
				attribute.String("error", fmt.Sprintf("%T", err)),
			))
			span.RecordError(err)
		}
		span.End()
	}
}

// RecordAuditEvent counts an appended audit event.
func (p *Provider) RecordAuditEvent(ctx context.Context, action string) {
	p.auditEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordOverride counts an administrative override.
func (p *Provider) RecordOverride(ctx context.Context, operation string) {
	p.overridesUsed.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
