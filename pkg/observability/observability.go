// Package observability wires OpenTelemetry tracing and metrics for the
// treasury process: OTLP export, RED metrics for every tracked operation
// and execution counters for coordinator runs and transaction outcomes.
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

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

const instrumentation = "treasury"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g., "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // Use insecure connection (dev only)
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "treasury",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdowns      []func(context.Context) error
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics (Rate, Errors, Duration)
	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter

	executionCounter metric.Int64Counter
	outcomeCounter   metric.Int64Counter
	attemptHist      metric.Int64Histogram
}

// New creates a provider exporting over OTLP gRPC. A disabled config
// yields a provider backed by the global (no-op by default) providers.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")

	if !config.Enabled {
		logger.InfoContext(ctx, "observability disabled")
		return newProvider(config, otel.GetTracerProvider(), otel.GetMeterProvider(), logger)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("treasury.component", "core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp, err := newTraceProvider(ctx, config, res)
	if err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, config, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p, err := newProvider(config, tp, mp, logger)
	if err != nil {
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, tp.Shutdown, mp.Shutdown)

	logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders builds a Provider on caller-owned providers, e.g. an
// in-memory exporter in tests. Shutdown does not close them.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	return newProvider(DefaultConfig(), tp, mp, slog.Default().With("component", "observability"))
}

func newProvider(config *Config, tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		config:         config,
		tracerProvider: tp,
		meterProvider:  mp,
		logger:         logger,
		tracer:         tp.Tracer(instrumentation, trace.WithInstrumentationVersion(config.ServiceVersion)),
		meter:          mp.Meter(instrumentation, metric.WithInstrumentationVersion(config.ServiceVersion)),
	}
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return p, nil
}

func newTraceProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

func newMeterProvider(ctx context.Context, config *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

func (p *Provider) initMetrics() error {
	var err error

	// Rate
	if p.requestCounter, err = p.meter.Int64Counter("treasury.operations.total",
		metric.WithDescription("Total number of tracked operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}

	// Errors
	if p.errorCounter, err = p.meter.Int64Counter("treasury.errors.total",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}

	// Duration
	if p.durationHist, err = p.meter.Float64Histogram("treasury.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return err
	}

	if p.activeOperations, err = p.meter.Int64UpDownCounter("treasury.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}

	if p.executionCounter, err = p.meter.Int64Counter("treasury.executions.total",
		metric.WithDescription("Coordinator runs by final status and reason"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return err
	}

	if p.outcomeCounter, err = p.meter.Int64Counter("treasury.transactions.total",
		metric.WithDescription("Transaction outcomes by terminal status"),
		metric.WithUnit("{transaction}"),
	); err != nil {
		return err
	}

	if p.attemptHist, err = p.meter.Int64Histogram("treasury.transaction.attempts",
		metric.WithDescription("Submission attempts per transaction"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops providers created by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordError counts a failed operation.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	all := append(append([]attribute.KeyValue{}, attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordDuration records the duration of an operation.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	p.durationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// TrackOperation starts a span and RED accounting for name. Call the
// returned function with the operation's error when it completes.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	all := append([]attribute.KeyValue{attribute.String("operation", name)}, attrs...)

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	p.activeOperations.Add(ctx, 1, metric.WithAttributes(all...))
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(all...))

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, metric.WithAttributes(all...))
		p.RecordDuration(ctx, time.Since(start), all...)
		if err != nil {
			span.RecordError(err)
			p.RecordError(ctx, err, all...)
		}
		span.End()
	}
}

// RecordExecution counts one finished coordinator run.
func (p *Provider) RecordExecution(ctx context.Context, execType contracts.ExecutionType, status contracts.ExecutionStatus, reason contracts.AbortReason) {
	p.executionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("execution.type", string(execType)),
		attribute.String("execution.status", string(status)),
		attribute.String("execution.reason", string(reason)),
	))
}

// OnOutcome counts terminal transaction outcomes. It satisfies the
// orchestrator's observer interface.
func (p *Provider) OnOutcome(ctx context.Context, o contracts.TransactionOutcome) {
	if !o.Status.Terminal() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("transaction.status", string(o.Status)))
	p.outcomeCounter.Add(ctx, 1, attrs)
	if o.Attempts > 0 {
		p.attemptHist.Record(ctx, int64(o.Attempts), attrs)
	}
}
