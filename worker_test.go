package taskapp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

func echoTask(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"args": args, "kwargs": kwargs}, nil
}

func newTestWorker(t *testing.T, app *App, opts ...WorkerOption) *Worker {
	t.Helper()

	worker, err := app.Worker(opts...)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}

	return worker
}

func TestWorker_Success(t *testing.T) {
	t.Parallel()

	app, broker, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{Name: "w.echo", Fn: echoTask})

	ctx := testContext(t)

	res, err := app.SendTask(ctx, "w.echo", []any{"a"}, map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	worker := newTestWorker(t, app)

	if worker.Concurrency() <= 0 || len(worker.Queues()) != 1 || worker.Queues()[0] != DefaultQueueName {
		t.Fatalf("unexpected worker defaults %v, %d", worker.Queues(), worker.Concurrency())
	}

	processUntil(ctx, t, worker)

	value, err := res.Get(ctx, testPollInterval)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	out, ok := value.(map[string]any)
	if !ok || out["kwargs"].(map[string]any)["n"] != 1.0 {
		t.Fatalf("unexpected value %#v", value)
	}

	if broker.Unacked() != 0 {
		t.Fatalf("expected the delivery acked, got %d unacked", broker.Unacked())
	}

	metrics := app.Metrics()
	if metrics.Received != 1 || metrics.Succeeded != 1 || metrics.Running != 0 || metrics.TaskLatencyCount != 1 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}

	processed, err := worker.ProcessOne(ctx)
	if err != nil || processed {
		t.Fatalf("expected an empty queue, got %v, %v", processed, err)
	}
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	t.Parallel()

	app, broker, _ := newTestApp(t, nil)

	var attempts atomic.Int32

	mustRegister(t, app, TaskSpec{
		Name: "w.flaky",
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, Retry(ewrap.New("transient"), time.Millisecond)
			}

			return "ok", nil
		},
	})

	var (
		mu      sync.Mutex
		retries []int
	)

	app.SetHooks(Hooks{
		OnRetry: func(_ Message, _ time.Duration, attempt int) {
			mu.Lock()
			retries = append(retries, attempt)
			mu.Unlock()
		},
	})

	ctx := testContext(t)

	res, err := app.SendTask(ctx, "w.flaky", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	worker := newTestWorker(t, app)

	for range 3 {
		processUntil(ctx, t, worker)
	}

	value, err := res.Get(ctx, testPollInterval)
	if err != nil || value != "ok" {
		t.Fatalf("expected ok, got %v, %v", value, err)
	}

	stored, _, _ := res.Result(ctx)
	if stored.Retries != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", stored.Retries)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected retry attempts %v", retries)
	}

	if app.Metrics().Retried != 2 || broker.Unacked() != 0 {
		t.Fatalf("unexpected state: metrics %+v, unacked %d", app.Metrics(), broker.Unacked())
	}
}

func TestWorker_RetriesExhausted(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)

	maxRetries := 1
	errTransient := ewrap.New("still failing")

	mustRegister(t, app, TaskSpec{
		Name:       "w.hopeless",
		MaxRetries: &maxRetries,
		RetryDelay: time.Millisecond,
		AutoRetry:  true,
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			return nil, errTransient
		},
	})

	ctx := testContext(t)

	res, err := app.SendTask(ctx, "w.hopeless", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	worker := newTestWorker(t, app)
	processUntil(ctx, t, worker)

	state, _ := res.State(ctx)
	if state != StateRetry {
		t.Fatalf("expected RETRY after the first failure, got %s", state)
	}

	processUntil(ctx, t, worker)

	_, err = res.Get(ctx, testPollInterval)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}

	stored, _, _ := res.Result(ctx)
	if stored.Retries != 1 || stored.Error == "" {
		t.Fatalf("unexpected stored result %+v", stored)
	}
}

func TestWorker_FailureIsNotRetried(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)

	var calls atomic.Int32

	mustRegister(t, app, TaskSpec{
		Name: "w.fails",
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			calls.Add(1)

			return nil, ewrap.New("bad input")
		},
	})

	ctx := testContext(t)
	res, _ := app.SendTask(ctx, "w.fails", nil, nil)

	worker := newTestWorker(t, app)
	processUntil(ctx, t, worker)

	state, _ := res.State(ctx)
	if state != StateFailure || calls.Load() != 1 || app.Metrics().Failed != 1 {
		t.Fatalf("expected one failed call, got %s after %d calls", state, calls.Load())
	}
}

func TestWorker_UnregisteredTask(t *testing.T) {
	t.Parallel()

	app, broker, _ := newTestApp(t, nil)
	ctx := testContext(t)

	res, err := app.SendTask(ctx, "w.nobody", nil, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	processUntil(ctx, t, newTestWorker(t, app))

	stored, ok, _ := res.Result(ctx)
	if !ok || stored.State != StateFailure {
		t.Fatalf("expected FAILURE, got %+v", stored)
	}

	if broker.Unacked() != 0 {
		t.Fatal("unknown tasks must be acknowledged")
	}
}

func TestWorker_ExpiredTaskIsRevoked(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)

	var calls atomic.Int32

	mustRegister(t, app, TaskSpec{
		Name: "w.stale",
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			calls.Add(1)

			return nil, nil //nolint:nilnil
		},
	})

	ctx := testContext(t)

	res, err := app.SendTask(ctx, "w.stale", nil, nil, WithExpires(time.Now().Add(-time.Second)))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	processUntil(ctx, t, newTestWorker(t, app))

	_, err = res.Get(ctx, testPollInterval)
	if !errors.Is(err, ErrTaskRevoked) {
		t.Fatalf("expected ErrTaskRevoked, got %v", err)
	}

	if calls.Load() != 0 || app.Metrics().Revoked != 1 {
		t.Fatalf("expired task must not run, got %d calls", calls.Load())
	}
}

func TestWorker_RequeuesEarlyDelivery(t *testing.T) {
	t.Parallel()

	app, broker, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{Name: "w.later", Fn: echoTask})

	ctx := testContext(t)
	eta := time.Now().Add(time.Hour)
	msg := Message{ID: uuid.New(), Task: "w.later", ETA: &eta}
	worker := newTestWorker(t, app)

	// a delivery handed out before its ETA goes back to the broker
	err := worker.handle(ctx, &Delivery{Message: msg, Queue: DefaultQueueName, Tag: "early"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	size, _ := broker.Len(ctx, DefaultQueueName)
	if size != 1 || app.Metrics().Succeeded != 0 {
		t.Fatalf("expected the message back in the queue, got %d", size)
	}
}

func TestWorker_TimeLimit(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	mustRegister(t, app, TaskSpec{
		Name:      "w.slow",
		TimeLimit: 20 * time.Millisecond,
		AutoRetry: true,
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			<-release

			return "late", nil
		},
	})

	ctx := testContext(t)
	res, _ := app.SendTask(ctx, "w.slow", nil, nil)

	processUntil(ctx, t, newTestWorker(t, app))

	stored, ok, _ := res.Result(ctx)
	if !ok || stored.State != StateFailure || stored.Retries != 0 {
		t.Fatalf("expected a failure without retries, got %+v", stored)
	}

	_, err := res.Get(ctx, testPollInterval)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{
		Name: "w.panics",
		Fn: func(context.Context, []any, map[string]any) (any, error) {
			panic("kaboom")
		},
	})

	ctx := testContext(t)
	res, _ := app.SendTask(ctx, "w.panics", nil, nil)

	processUntil(ctx, t, newTestWorker(t, app))

	stored, ok, _ := res.Result(ctx)
	if !ok || stored.State != StateFailure || stored.Error == "" {
		t.Fatalf("expected a recorded failure, got %+v", stored)
	}
}

func TestWorker_Hooks(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{Name: "w.hooked", Fn: echoTask})

	var (
		mu     sync.Mutex
		events []string
	)

	record := func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	app.SetHooks(Hooks{
		OnReceived: func(Message) { record("received") },
		OnStart: func(Message) {
			record("start")
			panic("hook failure must not break the task")
		},
		OnFinish: func(_ Message, state State, _ any, _ error) { record("finish:" + string(state)) },
	})

	ctx := testContext(t)
	res, _ := app.SendTask(ctx, "w.hooked", nil, nil)

	processUntil(ctx, t, newTestWorker(t, app))

	_, err := res.Get(ctx, testPollInterval)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	want := []string{"received", "start", "finish:SUCCESS"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}

	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestWorker_RateLimit(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{Name: "w.limited", Fn: echoTask, RateLimit: "10/s"})

	ctx := testContext(t)

	for range 3 {
		_, err := app.SendTask(ctx, "w.limited", nil, nil)
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	worker := newTestWorker(t, app)
	started := time.Now()

	for range 3 {
		processUntil(ctx, t, worker)
	}

	// burst of one, then 100ms per token
	if elapsed := time.Since(started); elapsed < 150*time.Millisecond {
		t.Fatalf("expected the rate limit to space executions, took %v", elapsed)
	}
}

func TestWorker_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t, nil)
	mustRegister(t, app, TaskSpec{Name: "w.run", Fn: echoTask})

	ctx := testContext(t)

	results := make([]*AsyncResult, 0, 5)

	for range 5 {
		res, err := app.SendTask(ctx, "w.run", nil, nil)
		if err != nil {
			t.Fatalf("send: %v", err)
		}

		results = append(results, res)
	}

	worker := newTestWorker(t, app, WithConcurrency(2), WithPollInterval(testPollInterval))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() { done <- worker.Run(runCtx) }()

	for _, res := range results {
		_, err := res.Get(ctx, testPollInterval)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
	}

	err := worker.Run(ctx)
	if !errors.Is(err, ErrWorkerRunning) {
		t.Fatalf("expected ErrWorkerRunning, got %v", err)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("worker did not stop after cancel")
	}
}
