package taskapp

import (
	"context"
	"testing"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestApp_TracesTaskRuns(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	app, _, _ := newTestApp(t, nil, WithTracerProvider(provider))
	mustRegister(t, app, TaskSpec{Name: "trace.ok", Fn: echoTask})
	mustRegister(t, app, TaskSpec{
		Name: "trace.fail",
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			return nil, ewrap.New("trace error")
		},
	})

	ctx := testContext(t)
	worker := newTestWorker(t, app)

	for _, name := range []string{"trace.ok", "trace.fail"} {
		_, err := app.SendTask(ctx, name, nil, nil)
		if err != nil {
			t.Fatalf("send: %v", err)
		}

		processUntil(ctx, t, worker)
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	ok, failed := spans[0], spans[1]

	if ok.Name() != "run trace.ok" || ok.SpanKind() != trace.SpanKindConsumer || ok.Status().Code == codes.Error {
		t.Fatalf("unexpected span %s (%v, %v)", ok.Name(), ok.SpanKind(), ok.Status())
	}

	if failed.Status().Code != codes.Error || len(failed.Events()) == 0 {
		t.Fatalf("expected an error span with a recorded error, got %v", failed.Status())
	}

	if !hasAttribute(ok.Attributes(), attribute.String(otelAttrTaskResult, string(StateSuccess))) ||
		!hasAttribute(ok.Attributes(), appAttribute(app.Name())) {
		t.Fatalf("missing span attributes: %v", ok.Attributes())
	}

	app.SetTracerProvider(nil)

	_, err := app.SendTask(ctx, "trace.ok", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	processUntil(ctx, t, worker)

	if len(recorder.Ended()) != 2 {
		t.Fatal("expected no spans after disabling tracing")
	}
}

func hasAttribute(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, attr := range attrs {
		if attr == want {
			return true
		}
	}

	return false
}
