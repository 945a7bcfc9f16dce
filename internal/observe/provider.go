package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers for the care
// server.
type ProviderConfig struct {
	// ServiceName appears on every metric and span. Default: "carescript".
	ServiceName string

	// ServiceVersion is reported alongside the service name.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps tracing local: spans
	// still record and propagate correlation IDs through the intervention
	// pipeline, but nothing leaves the process. Deployments that ship traces
	// plug an OTLP exporter in here.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global OTel meter and tracer providers. Metrics
// flow through a Prometheus reader so the existing /metrics endpoint serves
// them; traces batch to the configured exporter when one is set.
//
// The returned shutdown function flushes both providers; main defers it so
// in-flight session metrics survive a graceful stop.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "carescript"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var closers []func(context.Context) error

	promReader, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promReader),
	)
	otel.SetMeterProvider(mp)
	closers = append(closers, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	closers = append(closers, tp.Shutdown)

	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range closers {
			if e := fn(ctx); e != nil {
				errs = append(errs, e)
			}
		}
		return errors.Join(errs...)
	}

	return shutdown, nil
}
