// Package telemetry wires OpenTelemetry tracing and metrics for the sync
// engine. When disabled every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const ScopeName = "github.com/fastygo/tasksync"

type Config struct {
	Enabled     bool
	Exporter    string
	ServiceName string
}

// Provider bundles the tracer and meter used across the agent.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	shutdown func(context.Context) error
}

// Init sets up OpenTelemetry. A disabled config yields a no-op provider.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "tasksync"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := createExporter(cfg.Exporter)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		Tracer: tp.Tracer(ScopeName),
		Meter:  mp.Meter(ScopeName),
		shutdown: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	}, nil
}

// Noop returns a provider whose instruments discard everything.
func Noop() *Provider {
	return &Provider{
		Tracer:   nooptrace.NewTracerProvider().Tracer(ScopeName),
		Meter:    noopmetric.NewMeterProvider().Meter(ScopeName),
		shutdown: func(context.Context) error { return nil },
	}
}

// New builds a provider from existing trace and meter providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	return &Provider{
		Tracer:   tp.Tracer(ScopeName),
		Meter:    mp.Meter(ScopeName),
		shutdown: func(context.Context) error { return nil },
	}
}

// Shutdown flushes and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func createExporter(name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: stdout, none)", name)
	}
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                            { return nil }

// Metrics are the sync engine's counters.
type Metrics struct {
	Pushes       metric.Int64Counter
	PushFailures metric.Int64Counter
	Merges       metric.Int64Counter
	Snapshots    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Pushes, err = meter.Int64Counter("tasksync.push.records",
		metric.WithDescription("Records pushed to the remote store")); err != nil {
		return nil, err
	}
	if m.PushFailures, err = meter.Int64Counter("tasksync.push.failures",
		metric.WithDescription("Failed push attempts")); err != nil {
		return nil, err
	}
	if m.Merges, err = meter.Int64Counter("tasksync.merge.count",
		metric.WithDescription("Initial-sync merges performed")); err != nil {
		return nil, err
	}
	if m.Snapshots, err = meter.Int64Counter("tasksync.snapshot.count",
		metric.WithDescription("Remote snapshots adopted")); err != nil {
		return nil, err
	}
	return m, nil
}

// StartSpan starts a span tagged with the user id.
func (p *Provider) StartSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name, trace.WithAttributes(attribute.String("tasksync.user_id", userID)))
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
