// Package telemetry wires OpenTelemetry for the balance binaries: provider
// setup with OTLP or stdout export, and an instrumenting decorator for chain
// adapters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/archon-research/stl/stl-balances/internal/pkg/env"
)

// Config selects where spans and metrics go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is an OTLP gRPC collector address such as localhost:4317.
	// Without it metrics stay on the no-op provider and spans are dropped,
	// or printed when StdoutTraces is set.
	Endpoint     string
	StdoutTraces bool

	// SampleRate is the fraction of root spans kept, in [0, 1].
	SampleRate float64

	// MetricInterval is the push period. Defaults to 15s.
	MetricInterval time.Duration
}

// ConfigFromEnv reads the standard OTEL_* variables plus ENVIRONMENT and
// SERVICE_VERSION.
func ConfigFromEnv(service string) Config {
	rate := 1.0
	if raw := env.Get("OTEL_TRACES_SAMPLER_ARG", ""); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			rate = v
		}
	}
	return Config{
		ServiceName:    service,
		ServiceVersion: env.Get("SERVICE_VERSION", "dev"),
		Environment:    env.Get("ENVIRONMENT", "development"),
		Endpoint:       env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		StdoutTraces:   env.GetBool("OTEL_TRACES_STDOUT", false),
		SampleRate:     rate,
		MetricInterval: env.GetDuration("OTEL_METRIC_EXPORT_INTERVAL", 15*time.Second),
	}
}

// Setup installs the global tracer and meter providers and the W3C
// propagators. The returned function flushes and stops both.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stl-balances"
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 15 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	var shutdowns []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	spanExporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	}
	if spanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(spanExporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	shutdowns = append(shutdowns, tp.Shutdown)

	if cfg.Endpoint != "" {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}
	return shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch {
	case cfg.Endpoint != "":
		conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dialing otlp collector: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("creating span exporter: %w", err)
		}
		return exp, nil
	case cfg.StdoutTraces:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout span exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, nil
	}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
