// Package telemetry wires optional OpenTelemetry export for fieldsync. When a
// collector is configured, trace, metric and log providers are installed
// globally and share one OTLP gRPC connection; otherwise the global no-op
// providers stay in place and the sync counters cost nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/njoerd114/fieldsync/internal/config"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "fieldsync"

// Config groups all telemetry settings.
type Config struct {
	// OTLPEndpoint is the gRPC host:port of the collector. Empty disables
	// telemetry.
	OTLPEndpoint string

	// Insecure disables TLS for the collector connection.
	Insecure bool

	ServiceName    string
	ServiceVersion string

	// Headers is sent as gRPC metadata on every OTLP request.
	Headers map[string]string
}

// FromConfig converts the YAML telemetry block. A nil block yields a
// disabled Config.
func FromConfig(c *config.TelemetryConfig, version string) Config {
	if c == nil {
		return Config{ServiceVersion: version}
	}
	return Config{
		OTLPEndpoint:   c.OTLPEndpoint,
		Insecure:       c.Insecure,
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Headers:        c.Headers,
	}
}

// Enabled reports whether a collector is configured.
func (c Config) Enabled() bool {
	return c.OTLPEndpoint != ""
}

// ShutdownFunc flushes and closes all providers. Call it with a fresh
// context; the main one may already be cancelled.
type ShutdownFunc func(context.Context) error

// Setup installs the global providers. It is a no-op for a disabled Config.
// The returned ShutdownFunc is never nil so callers can defer it
// unconditionally.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled() {
		return noopShutdown, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return noopShutdown, err
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}

	var shutdowns []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("OTLP gRPC connection close: %w", err))
		}
		return errors.Join(errs...)
	}

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	shutdowns = append(shutdowns, wrapShutdown("trace", tp.Shutdown))

	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithGRPCConn(conn),
		otlpmetricgrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	shutdowns = append(shutdowns, wrapShutdown("metric", mp.Shutdown))

	logExp, err := otlploggrpc.New(ctx,
		otlploggrpc.WithGRPCConn(conn),
		otlploggrpc.WithHeaders(cfg.Headers),
	)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	shutdowns = append(shutdowns, wrapShutdown("log", lp.Shutdown))

	// Install globally only once every exporter exists.
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return cleanup, nil
}

// newResource describes this process. resource.NewSchemaless avoids a schema
// URL conflict between resource.Default and our semconv version.
func newResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := resource.NewSchemaless(semconv.ServiceName(name))
	if cfg.ServiceVersion != "" {
		attrs = resource.NewSchemaless(semconv.ServiceName(name), semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), attrs)
	if err != nil {
		return nil, fmt.Errorf("building OTel resource: %w", err)
	}
	return res, nil
}

func dial(cfg Config) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func wrapShutdown(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s provider shutdown: %w", name, err)
		}
		return nil
	}
}

func noopShutdown(_ context.Context) error { return nil }
