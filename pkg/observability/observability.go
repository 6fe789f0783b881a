// Package observability provides OpenTelemetry tracing and metrics for the
// gateway: one span per query, RED metrics, and per-resolver outcome counts.
// Telemetry is off by default; a disabled Provider records into no-op
// instruments.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "companion.gateway"

// Resolver outcomes.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// latencyBuckets brackets the resolver budgets (80ms, 350ms).
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.08, 0.15, 0.25, 0.35, 0.5, 1, 2.5, 5}

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC host:port
	SampleRate     float64 // root span ratio, 0..1
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, dev only

	// MetricReader replaces the OTLP metric exporter when set. Tests use
	// sdkmetric.NewManualReader to collect in process.
	MetricReader sdkmetric.Reader
}

// DefaultConfig returns the defaults. Telemetry starts disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "companion-gateway",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Insecure:       true,
	}
}

type instruments struct {
	queries  metric.Int64Counter
	faults   metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	outcomes metric.Int64Counter
}

// Provider owns the SDK providers and the gateway's instruments.
type Provider struct {
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	inst   instruments
	logger *slog.Logger
}

// New builds a Provider. When cfg is disabled nothing is exported and no
// global state is touched.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if !cfg.Enabled {
		p.tracer = tracenoop.NewTracerProvider().Tracer(scope)
		if err := p.instrument(metricnoop.NewMeterProvider().Meter(scope)); err != nil {
			return nil, err
		}
		return p, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	var err error
	if p.tp, err = newTracerProvider(ctx, cfg, res); err != nil {
		return nil, fmt.Errorf("observability: traces: %w", err)
	}
	if p.mp, err = newMeterProvider(ctx, cfg, res); err != nil {
		_ = p.tp.Shutdown(ctx)
		return nil, fmt.Errorf("observability: metrics: %w", err)
	}

	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = p.tp.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.instrument(p.mp.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "telemetry exporting",
		"endpoint", cfg.OTLPEndpoint,
		"environment", cfg.Environment,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader := cfg.MetricReader
	if reader == nil {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

func (p *Provider) instrument(m metric.Meter) error {
	var errs [5]error
	p.inst.queries, errs[0] = m.Int64Counter("companion.requests.total",
		metric.WithDescription("Queries entering the pipeline"),
		metric.WithUnit("{request}"))
	p.inst.faults, errs[1] = m.Int64Counter("companion.errors.total",
		metric.WithDescription("Queries that ended in an internal fault"),
		metric.WithUnit("{error}"))
	p.inst.latency, errs[2] = m.Float64Histogram("companion.request.duration",
		metric.WithDescription("End-to-end query latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	p.inst.inflight, errs[3] = m.Int64UpDownCounter("companion.operations.active",
		metric.WithDescription("Queries in flight"),
		metric.WithUnit("{operation}"))
	p.inst.outcomes, errs[4] = m.Int64Counter("companion.resolver.outcomes",
		metric.WithDescription("Resolver results by resolver and outcome"),
		metric.WithUnit("{result}"))
	if err := errors.Join(errs[:]...); err != nil {
		return fmt.Errorf("observability: instruments: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordOutcome counts one resolver result.
func (p *Provider) RecordOutcome(ctx context.Context, resolver, outcome string) {
	p.inst.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resolver", resolver),
		attribute.String("outcome", outcome),
	))
}

// TrackOperation opens a span and the RED bookkeeping for one query. The
// returned func closes both; attributes only known at the end, such as the
// routed path, are set on the span.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error, ...attribute.KeyValue)) {
	start := time.Now()
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	p.inst.inflight.Add(ctx, 1, set)
	p.inst.queries.Add(ctx, 1, set)

	return ctx, func(err error, final ...attribute.KeyValue) {
		p.inst.inflight.Add(ctx, -1, set)
		p.inst.latency.Record(ctx, time.Since(start).Seconds(), set)

		span.SetAttributes(final...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.inst.faults.Add(ctx, 1, set)
		}
		span.End()
	}
}
