// Package telemetry sets up OpenTelemetry tracing for merge runs.
//
// Tracing is off unless OTEL_ENABLED=true or telemetry.enabled is set in
// the config file. The OTLP exporter honours the standard OTEL_EXPORTER_OTLP_*
// variables.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/antisplit/pkg/config"
)

// TracerName is the instrumentation scope of spans opened by this module.
const TracerName = "github.com/antisplit"

var (
	mu           sync.Mutex
	globalConfig *Config
)

// ShutdownFunc flushes and stops the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(_ context.Context) error {
	return nil
}

// Init configures tracing from the environment only.
func Init(ctx context.Context) (ShutdownFunc, error) {
	return InitWithConfig(ctx, nil)
}

// InitWithConfig configures tracing from the environment completed by tc.
// When tracing stays disabled the global no-op provider is kept.
func InitWithConfig(ctx context.Context, tc *config.TelemetryConfig) (ShutdownFunc, error) {
	cfg := LoadFromEnv()
	if tc != nil {
		cfg.Overlay(*tc)
	}
	setConfig(cfg)

	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}
	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(createSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Enabled returns whether tracing is enabled.
func Enabled() bool {
	return GetConfig().Enabled
}

// GetConfig returns the active configuration, loading it from the
// environment when Init has not run.
func GetConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	if globalConfig == nil {
		globalConfig = LoadFromEnv()
	}
	return globalConfig
}

func setConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan opens a span named name below ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
