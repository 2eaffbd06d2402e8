package taskapp

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an App.
type Option func(*appConfig)

type appConfig struct {
	logger        *slog.Logger
	broker        Broker
	results       ResultBackend
	meterProvider metric.MeterProvider
	meterOpts     []OTelMetricsOption
	tracer        trace.TracerProvider
}

// WithLogger sets the structured logger used by the app and its worker.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *appConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBroker sets the broker, bypassing broker_url.
func WithBroker(broker Broker) Option {
	return func(cfg *appConfig) {
		cfg.broker = broker
	}
}

// WithResultBackend sets the result backend, bypassing result_backend.
func WithResultBackend(backend ResultBackend) Option {
	return func(cfg *appConfig) {
		cfg.results = backend
	}
}

// WithMeterProvider enables OpenTelemetry metrics for the app.
func WithMeterProvider(provider metric.MeterProvider, opts ...OTelMetricsOption) Option {
	return func(cfg *appConfig) {
		cfg.meterProvider = provider
		cfg.meterOpts = opts
	}
}

// WithTracerProvider traces task execution with OpenTelemetry spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *appConfig) {
		cfg.tracer = provider
	}
}
