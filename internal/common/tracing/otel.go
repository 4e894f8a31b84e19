// Package tracing wires OpenTelemetry spans around tool and subprocess runs.
// Spans are no-ops until Init installs an OTLP/HTTP exporter.
package tracing

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/dachongbaba/openbotgate/internal/common/config"
	"github.com/dachongbaba/openbotgate/internal/common/logger"
)

var (
	mu       sync.RWMutex
	provider trace.TracerProvider = noop.NewTracerProvider()
	sdk      *sdktrace.TracerProvider
)

// Init installs the exporter described by cfg. An empty endpoint keeps
// tracing off. Setup failures are logged and leave tracing off; the gateway
// runs either way.
func Init(ctx context.Context, cfg config.TracingConfig, version string, log *logger.Logger) {
	log = log.WithFields(zap.String("component", "tracing"))
	if cfg.Endpoint == "" {
		log.Debug("tracing disabled, no OTLP endpoint configured")
		return
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpointHost(cfg.Endpoint))}
	if cfg.Insecure || strings.HasPrefix(cfg.Endpoint, "http://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		log.Warn("tracing disabled, OTLP exporter setup failed",
			zap.String("endpoint", cfg.Endpoint), zap.Error(err))
		return
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName(cfg)),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if err != nil {
		log.Warn("partial tracing resource", zap.Error(err))
		if res == nil {
			res = resource.Default()
		}
	}

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("span export failed", zap.Error(err))
	}))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	sdk = tp
	provider = tp
	mu.Unlock()

	log.Info("tracing enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", serviceName(cfg)),
		zap.Float64("sample_ratio", cfg.SampleRatio))
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "openbotgate"
}

// endpointHost strips the scheme; otlptracehttp wants host:port.
func endpointHost(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return strings.TrimSuffix(endpoint[len(prefix):], "/")
		}
	}
	return strings.TrimSuffix(endpoint, "/")
}

// Tracer returns a named tracer from the installed provider.
func Tracer(name string) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return provider.Tracer(name)
}

// Shutdown flushes pending spans and restores the no-op provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := sdk
	sdk = nil
	provider = noop.NewTracerProvider()
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
