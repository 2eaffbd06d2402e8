package taskapp

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelTracerName     = "github.com/hyp3rd/go-taskapp"
	otelSpanRunPrefix  = "run "
	otelAttrTaskID     = "taskapp.task_id"
	otelAttrTaskName   = "taskapp.task"
	otelAttrTaskQueue  = "taskapp.queue"
	otelAttrTaskRetry  = "taskapp.retries"
	otelAttrTaskResult = "taskapp.state"
)

type tracerHolder struct {
	tracer trace.Tracer
}

// SetTracerProvider traces task execution with spans from provider. Passing
// nil disables tracing.
func (a *App) SetTracerProvider(provider trace.TracerProvider) {
	if provider == nil {
		a.tracer.Store(nil)

		return
	}

	a.tracer.Store(&tracerHolder{tracer: provider.Tracer(otelTracerName)})
}

func appAttribute(name string) attribute.KeyValue {
	return attribute.String(otelAttrApp, name)
}

func (a *App) startSpan(ctx context.Context, msg Message) (context.Context, trace.Span) {
	holder := a.tracer.Load()
	if holder == nil {
		return ctx, nil
	}

	return holder.tracer.Start(ctx, otelSpanRunPrefix+msg.Task,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			appAttribute(a.name),
			attribute.String(otelAttrTaskID, msg.ID.String()),
			attribute.String(otelAttrTaskName, msg.Task),
			attribute.String(otelAttrTaskQueue, msg.Queue),
			attribute.Int(otelAttrTaskRetry, msg.Retries),
		))
}

func endSpan(span trace.Span, state State, err error) {
	if span == nil {
		return
	}

	span.SetAttributes(attribute.String(otelAttrTaskResult, string(state)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
