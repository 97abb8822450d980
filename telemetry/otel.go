// Package telemetry exports the module's logs and spans over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/agentuity/go-exchange/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const exportTimeout = 10 * time.Second

type ShutdownFunc func()

// New exports to otlpServerURL with a bearer token signed by telemetrySecret
// and valid for a day. When consoleLogger is set, the returned logger writes to
// it as well.
func New(ctx context.Context, serviceName string, telemetrySecret string, otlpServerURL string, consoleLogger logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	var token string
	if telemetrySecret != "" {
		var err error
		token, err = GenerateOTLPBearerTokenWithExpiration(telemetrySecret, time.Now().Add(24*time.Hour))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error generating token: %w", err)
		}
	}
	return newWithToken(ctx, serviceName, otlpServerURL, token, consoleLogger)
}

// NewWithAPIKey is New authenticated with a static API key.
func NewWithAPIKey(ctx context.Context, serviceName string, otlpServerURL string, apiKey string, consoleLogger logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	return newWithToken(ctx, serviceName, otlpServerURL, apiKey, consoleLogger)
}

func newWithToken(ctx context.Context, serviceName string, otlpServerURL string, authToken string, consoleLogger logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	otlpURL, err := url.Parse(otlpServerURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error parsing oltpServerURL: %w", err)
	}
	logURL := otlpURL.JoinPath("/v1/logs").String()
	traceURL := otlpURL.JoinPath("/v1/traces").String()

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		if consoleLogger != nil {
			consoleLogger.Warn("partial telemetry resource: %s", err)
		}
	} else if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating resource: %w", err)
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	insecure := otlpURL.Scheme == "http"

	logExporterOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(exportTimeout),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	traceExporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(exportTimeout),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if insecure {
		logExporterOpts = append(logExporterOpts, otlploghttp.WithInsecure())
		traceExporterOpts = append(traceExporterOpts, otlptracehttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logExporterOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating log exporter: %w", err)
	}
	traceExporter, err := otlptracehttp.New(ctx, traceExporterOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating trace exporter: %w", err)
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var log logger.Logger = logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelTrace)
	if consoleLogger != nil {
		log = logger.NewMultiLogger(consoleLogger, log)
	}

	return ctx, log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil && consoleLogger != nil {
			consoleLogger.Warn("error shutting down trace provider: %s", err)
		}
		if err := logProvider.Shutdown(ctx); err != nil && consoleLogger != nil {
			consoleLogger.Warn("error shutting down log provider: %s", err)
		}
	}, nil
}

// StartSpan starts a span and returns a logger correlated with it.
func StartSpan(ctx context.Context, log logger.Logger, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, logger.Logger, trace.Span) {
	ctx, span := tracer.Start(ctx, name, opts...)
	return ctx, log.WithContext(ctx), span
}
