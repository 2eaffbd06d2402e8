package taskapp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hyp3rd/go-taskapp/settings"
)

const (
	testNamespace      = "TASKAPP"
	testWaitTimeout    = 5 * time.Second
	testPollInterval   = 5 * time.Millisecond
	unexpectedErrorFmt = "unexpected error: %v"
)

// newTestApp creates an app named after the test with in-memory transport. A
// random suffix lets one test create several apps.
// Options in conf are bound as if they came from a settings module.
func newTestApp(t *testing.T, conf map[string]any, opts ...Option) (*App, *MemoryBroker, *MemoryResultBackend) {
	t.Helper()

	broker := NewMemoryBroker()
	backend := NewMemoryResultBackend()

	opts = append([]Option{WithBroker(broker), WithResultBackend(backend)}, opts...)

	name := strings.ReplaceAll(t.Name(), "/", ".") + "-" + uuid.NewString()[:8]

	app, err := New(name, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	t.Cleanup(func() { _ = app.Close() })

	if conf != nil {
		values := make(map[string]any, len(conf))
		for key, value := range conf {
			values[testNamespace+"_"+strings.ToUpper(key)] = value
		}

		err = app.ConfigFromSettings(settings.New("taskapp.test", values), testNamespace)
		if err != nil {
			t.Fatalf("bind settings: %v", err)
		}
	}

	return app, broker, backend
}

func mustRegister(t *testing.T, app *App, spec TaskSpec) *Task {
	t.Helper()

	task, err := app.Register(spec)
	if err != nil {
		t.Fatalf("register %s: %v", spec.Name, err)
	}

	return task
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testWaitTimeout)
	t.Cleanup(cancel)

	return ctx
}

// processUntil runs ProcessOne until a message was handled or ctx ends.
func processUntil(ctx context.Context, t *testing.T, worker *Worker) {
	t.Helper()

	for {
		processed, err := worker.ProcessOne(ctx)
		if err != nil {
			t.Fatalf("process: %v", err)
		}

		if processed {
			return
		}

		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for a due message")
		case <-time.After(testPollInterval):
		}
	}
}
