// internal/telemetry/tracer.go
package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/config"
)

// Shutdown flushes and stops the tracer provider
type Shutdown func(context.Context) error

// Init installs a global tracer provider exporting spans to w (stderr when
// nil). When telemetry is disabled the global noop provider is left in place
// and the returned Shutdown does nothing.
func Init(cfg config.TelemetryConfig, w io.Writer, logger *zap.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		w = os.Stderr
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "leafdoc"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(name)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", zap.String("service", name))
	return tp.Shutdown, nil
}
