// Package telemetry installs the OpenTelemetry SDK providers used by the
// server binary. Library packages only ever talk to the global API.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Options struct {
	ServiceName    string
	ServiceVersion string
	Traces         bool
	Logs           bool
	Metrics        bool
	MetricInterval time.Duration
	// Writer receives every exported signal, stdout when nil.
	Writer io.Writer
}

// Setup installs the enabled providers globally. The returned shutdown
// flushes and stops all of them.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs error
		for _, fn := range shutdownFuncs {
			errs = errors.Join(errs, fn(ctx))
		}
		shutdownFuncs = nil
		return errs
	}
	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if opts.Traces {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			handleErr(err)
			return shutdown, err
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
		shutdownFuncs = append(shutdownFuncs, provider.Shutdown)
		otel.SetTracerProvider(provider)
	}

	if opts.Logs {
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(writer))
		if err != nil {
			handleErr(err)
			return shutdown, err
		}
		provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)), sdklog.WithResource(res))
		shutdownFuncs = append(shutdownFuncs, provider.Shutdown)
		global.SetLoggerProvider(provider)
	}

	if opts.Metrics {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(writer))
		if err != nil {
			handleErr(err)
			return shutdown, err
		}
		interval := opts.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		shutdownFuncs = append(shutdownFuncs, provider.Shutdown)
		otel.SetMeterProvider(provider)
	}

	return shutdown, nil
}
