package taskapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryResultBackend_TTL(t *testing.T) {
	t.Parallel()

	backend := NewMemoryResultBackend()
	now := time.Now()
	backend.now = func() time.Time { return now }

	ctx := context.Background()
	res := Result{TaskID: uuid.New(), Task: "t", State: StateSuccess, Value: "ok"}

	err := backend.Store(ctx, res, time.Minute)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := backend.Get(ctx, res.TaskID)
	if err != nil || !ok || got.Value != "ok" || got.State != StateSuccess {
		t.Fatalf("unexpected result %+v, %v, %v", got, ok, err)
	}

	now = now.Add(2 * time.Minute)

	_, ok, err = backend.Get(ctx, res.TaskID)
	if err != nil || ok {
		t.Fatalf("expected the result to expire, got %v, %v", ok, err)
	}

	forever := Result{TaskID: uuid.New(), Task: "t", State: StateFailure, Error: "boom"}
	_ = backend.Store(ctx, forever, 0)

	now = now.Add(24 * time.Hour)

	if _, ok, _ := backend.Get(ctx, forever.TaskID); !ok {
		t.Fatal("results stored without ttl must not expire")
	}
}

func TestAsyncResult_Get(t *testing.T) {
	t.Parallel()

	backend := NewMemoryResultBackend()
	id := uuid.New()
	async := newAsyncResult(id, "t", backend)

	ctx, cancel := context.WithTimeout(context.Background(), testWaitTimeout)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)

		_ = backend.Store(context.Background(), Result{TaskID: id, Task: "t", State: StateStarted}, 0)

		time.Sleep(20 * time.Millisecond)

		_ = backend.Store(context.Background(), Result{TaskID: id, Task: "t", State: StateSuccess, Value: 42.0}, 0)
	}()

	value, err := async.Get(ctx, testPollInterval)
	if err != nil || value != 42.0 {
		t.Fatalf("expected 42, got %v, %v", value, err)
	}

	ready, err := async.Ready(ctx)
	if err != nil || !ready {
		t.Fatalf("expected ready, got %v, %v", ready, err)
	}
}

func TestAsyncResult_Errors(t *testing.T) {
	t.Parallel()

	backend := NewMemoryResultBackend()
	ctx := context.Background()

	revoked := Result{TaskID: uuid.New(), State: StateRevoked}
	_ = backend.Store(ctx, revoked, 0)

	_, err := newAsyncResult(revoked.TaskID, "t", backend).Get(ctx, testPollInterval)
	if !errors.Is(err, ErrTaskRevoked) {
		t.Fatalf("expected ErrTaskRevoked, got %v", err)
	}

	_, _, err = newAsyncResult(uuid.New(), "t", nil).Result(ctx)
	if !errors.Is(err, ErrNoResultBackend) {
		t.Fatalf("expected ErrNoResultBackend, got %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	_, err = newAsyncResult(uuid.New(), "t", backend).Get(waitCtx, testPollInterval)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOpenResultBackend(t *testing.T) {
	t.Parallel()

	backend, err := OpenResultBackend("", "")
	if err != nil || backend != nil {
		t.Fatalf("expected results disabled, got %v, %v", backend, err)
	}

	backend, err = OpenResultBackend("memory://", "")
	if err != nil {
		t.Fatalf(unexpectedErrorFmt, err)
	}

	if _, ok := backend.(*MemoryResultBackend); !ok {
		t.Fatalf("expected a memory backend, got %T", backend)
	}

	_, err = OpenResultBackend("db+sqlite:///results.db", "")
	if !errors.Is(err, ErrUnsupportedResultBackend) {
		t.Fatalf("expected ErrUnsupportedResultBackend, got %v", err)
	}
}
