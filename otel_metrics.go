package taskapp

import (
	"context"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/metric"
)

const (
	otelMeterName                 = "github.com/hyp3rd/go-taskapp"
	otelMetricTasksSentTotal      = "taskapp_tasks_sent_total"
	otelMetricTasksReceivedTotal  = "taskapp_tasks_received_total"
	otelMetricTasksRunning        = "taskapp_tasks_running"
	otelMetricTasksSucceededTotal = "taskapp_tasks_succeeded_total"
	otelMetricTasksFailedTotal    = "taskapp_tasks_failed_total"
	otelMetricTasksRetriedTotal   = "taskapp_tasks_retried_total"
	otelMetricTasksRevokedTotal   = "taskapp_tasks_revoked_total"
	otelMetricTaskLatencySeconds  = "taskapp_task_latency_seconds"
	otelMetricLatencyUnit         = "s"
	otelAttrApp                   = "app"
	errMsgOTelMetricsInit         = "otel metrics initialization failed"
	errMsgCreateMetricFailed      = "%s: create %s"
)

// OTelMetricsOption configures OpenTelemetry metrics.
type OTelMetricsOption func(*otelMetricsConfig)

type otelMetricsConfig struct {
	meterName    string
	meterVersion string
}

// WithOTelMeterName overrides the default OTel meter name.
func WithOTelMeterName(name string) OTelMetricsOption {
	return func(cfg *otelMetricsConfig) {
		if name != "" {
			cfg.meterName = name
		}
	}
}

// WithOTelMeterVersion sets the instrumentation version reported by the meter.
func WithOTelMeterVersion(version string) OTelMetricsOption {
	return func(cfg *otelMetricsConfig) {
		cfg.meterVersion = version
	}
}

type otelMetrics struct {
	sent         metric.Int64ObservableCounter
	received     metric.Int64ObservableCounter
	running      metric.Int64ObservableGauge
	succeeded    metric.Int64ObservableCounter
	failed       metric.Int64ObservableCounter
	retried      metric.Int64ObservableCounter
	revoked      metric.Int64ObservableCounter
	latency      metric.Float64Histogram
	registration metric.Registration
}

// SetMeterProvider enables OpenTelemetry metrics collection. Passing nil disables it.
func (a *App) SetMeterProvider(provider metric.MeterProvider, opts ...OTelMetricsOption) error {
	if provider == nil {
		a.disableOTelMetrics()

		return nil
	}

	cfg := otelMetricsConfig{meterName: otelMeterName}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	meter := provider.Meter(cfg.meterName, metric.WithInstrumentationVersion(cfg.meterVersion))

	metrics, err := buildOTelMetrics(meter)
	if err != nil {
		return err
	}

	err = a.registerOTelCallback(meter, metrics)
	if err != nil {
		return err
	}

	old := a.otel.Swap(metrics)
	if old != nil {
		a.unregisterOTel(old)
	}

	return nil
}

func (a *App) disableOTelMetrics() {
	old := a.otel.Swap(nil)
	if old != nil {
		a.unregisterOTel(old)
	}
}

func buildOTelMetrics(meter metric.Meter) (*otelMetrics, error) {
	metrics := &otelMetrics{}

	counters := []struct {
		target      *metric.Int64ObservableCounter
		name        string
		description string
	}{
		{&metrics.sent, otelMetricTasksSentTotal, "Total number of tasks sent"},
		{&metrics.received, otelMetricTasksReceivedTotal, "Total number of tasks received by workers"},
		{&metrics.succeeded, otelMetricTasksSucceededTotal, "Total number of tasks that succeeded"},
		{&metrics.failed, otelMetricTasksFailedTotal, "Total number of tasks that failed"},
		{&metrics.retried, otelMetricTasksRetriedTotal, "Total number of task retries"},
		{&metrics.revoked, otelMetricTasksRevokedTotal, "Total number of expired tasks"},
	}

	for _, counter := range counters {
		created, err := meter.Int64ObservableCounter(counter.name, metric.WithDescription(counter.description))
		if err != nil {
			return nil, ewrap.Wrapf(err, errMsgCreateMetricFailed, errMsgOTelMetricsInit, counter.name)
		}

		*counter.target = created
	}

	var err error

	metrics.running, err = meter.Int64ObservableGauge(otelMetricTasksRunning, metric.WithDescription("Number of tasks running"))
	if err != nil {
		return nil, ewrap.Wrapf(err, errMsgCreateMetricFailed, errMsgOTelMetricsInit, otelMetricTasksRunning)
	}

	metrics.latency, err = meter.Float64Histogram(
		otelMetricTaskLatencySeconds,
		metric.WithDescription("Task execution latency"),
		metric.WithUnit(otelMetricLatencyUnit),
	)
	if err != nil {
		return nil, ewrap.Wrapf(err, errMsgCreateMetricFailed, errMsgOTelMetricsInit, otelMetricTaskLatencySeconds)
	}

	return metrics, nil
}

func (a *App) registerOTelCallback(meter metric.Meter, metrics *otelMetrics) error {
	attrs := metric.WithAttributes(appAttribute(a.name))

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(metrics.sent, a.metrics.sent.Load(), attrs)
		observer.ObserveInt64(metrics.received, a.metrics.received.Load(), attrs)
		observer.ObserveInt64(metrics.running, a.metrics.running.Load(), attrs)
		observer.ObserveInt64(metrics.succeeded, a.metrics.succeeded.Load(), attrs)
		observer.ObserveInt64(metrics.failed, a.metrics.failed.Load(), attrs)
		observer.ObserveInt64(metrics.retried, a.metrics.retried.Load(), attrs)
		observer.ObserveInt64(metrics.revoked, a.metrics.revoked.Load(), attrs)

		return nil
	}, metrics.sent,
		metrics.received,
		metrics.running,
		metrics.succeeded,
		metrics.failed,
		metrics.retried,
		metrics.revoked)
	if err != nil {
		return ewrap.Wrapf(err, "%s: register callback", errMsgOTelMetricsInit)
	}

	metrics.registration = registration

	return nil
}

func (a *App) recordOTelLatency(ctx context.Context, latency time.Duration) {
	metrics := a.otel.Load()
	if metrics == nil {
		return
	}

	metrics.latency.Record(ctx, latency.Seconds(), metric.WithAttributes(appAttribute(a.name)))
}

func (a *App) unregisterOTel(metrics *otelMetrics) {
	if metrics == nil || metrics.registration == nil {
		return
	}

	err := metrics.registration.Unregister()
	if err != nil {
		a.logger.Warn("failed to unregister otel metrics callback", "error", err)
	}
}
