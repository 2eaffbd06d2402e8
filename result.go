package taskapp

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

const defaultResultPollInterval = 100 * time.Millisecond

// Result is the recorded outcome of a task invocation.
type Result struct {
	TaskID  uuid.UUID `json:"task_id"`
	Task    string    `json:"task"`
	State   State     `json:"state"`
	Value   any       `json:"value,omitempty"`
	Error   string    `json:"error,omitempty"`
	Retries int       `json:"retries"`
	DoneAt  time.Time `json:"done_at"`
}

// ResultBackend stores task results.
type ResultBackend interface {
	// Store records res and keeps it for ttl; ttl <= 0 keeps it forever.
	Store(ctx context.Context, res Result, ttl time.Duration) error
	// Get returns the result of the task id, and false when none is stored.
	Get(ctx context.Context, id uuid.UUID) (Result, bool, error)
	// Close releases the backend resources.
	Close() error
}

// OpenResultBackend connects to the backend described by rawURL. An empty
// URL disables results and returns a nil backend.
func OpenResultBackend(rawURL, prefix string) (ResultBackend, error) {
	if rawURL == "" {
		return nil, nil
	}

	scheme, err := urlScheme(rawURL)
	if err != nil {
		return nil, ewrap.Wrapf(ErrUnsupportedResultBackend, "%q: %v", rawURL, err)
	}

	switch scheme {
	case "memory":
		return NewMemoryResultBackend(), nil
	case "redis", "rediss":
		client, err := newRedisClient(rawURL)
		if err != nil {
			return nil, err
		}

		backend, err := NewRedisResultBackend(client, WithRedisKeyPrefix(prefix), withRedisClientOwned())
		if err != nil {
			return nil, err
		}

		return backend, nil
	default:
		return nil, ewrap.Wrapf(ErrUnsupportedResultBackend, "%q", rawURL)
	}
}

func encodeResult(res Result) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, ewrap.Wrap(err, "encode task result")
	}

	return data, nil
}

func decodeResult(data []byte) (Result, error) {
	var res Result

	err := json.Unmarshal(data, &res)
	if err != nil {
		return Result{}, ewrap.Wrap(err, "decode task result")
	}

	return res, nil
}

type storedResult struct {
	data      []byte
	expiresAt time.Time
}

// MemoryResultBackend keeps results in process memory.
type MemoryResultBackend struct {
	mu      sync.RWMutex
	results map[uuid.UUID]storedResult
	now     func() time.Time
}

// NewMemoryResultBackend creates an empty in-memory result backend.
func NewMemoryResultBackend() *MemoryResultBackend {
	return &MemoryResultBackend{
		results: map[uuid.UUID]storedResult{},
		now:     time.Now,
	}
}

// Store records res.
func (b *MemoryResultBackend) Store(ctx context.Context, res Result, ttl time.Duration) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	data, err := encodeResult(res)
	if err != nil {
		return err
	}

	entry := storedResult{data: data}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.results[res.TaskID] = entry
	b.mu.Unlock()

	return nil
}

// Get returns the stored result of id.
func (b *MemoryResultBackend) Get(ctx context.Context, id uuid.UUID) (Result, bool, error) {
	if ctx == nil {
		return Result{}, false, ErrInvalidContext
	}

	b.mu.RLock()
	entry, ok := b.results[id]
	b.mu.RUnlock()

	if !ok {
		return Result{}, false, nil
	}

	if !entry.expiresAt.IsZero() && b.now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.results, id)
		b.mu.Unlock()

		return Result{}, false, nil
	}

	res, err := decodeResult(entry.data)
	if err != nil {
		return Result{}, false, err
	}

	return res, true, nil
}

// Close drops every stored result.
func (b *MemoryResultBackend) Close() error {
	b.mu.Lock()
	b.results = map[uuid.UUID]storedResult{}
	b.mu.Unlock()

	return nil
}

// AsyncResult is a handle to the outcome of a sent task.
type AsyncResult struct {
	ID       uuid.UUID
	TaskName string

	backend ResultBackend
	local   *Result
}

func newAsyncResult(id uuid.UUID, task string, backend ResultBackend) *AsyncResult {
	return &AsyncResult{ID: id, TaskName: task, backend: backend}
}

// Result returns the stored result; false when none is available yet.
func (r *AsyncResult) Result(ctx context.Context) (Result, bool, error) {
	if r.local != nil {
		return *r.local, true, nil
	}

	if r.backend == nil {
		return Result{}, false, ErrNoResultBackend
	}

	return r.backend.Get(ctx, r.ID)
}

// State returns the current state of the task.
func (r *AsyncResult) State(ctx context.Context) (State, error) {
	res, ok, err := r.Result(ctx)
	if err != nil {
		return StatePending, err
	}

	if !ok {
		return StatePending, nil
	}

	return res.State, nil
}

// Ready reports whether the task reached a terminal state.
func (r *AsyncResult) Ready(ctx context.Context) (bool, error) {
	state, err := r.State(ctx)
	if err != nil {
		return false, err
	}

	return state.Ready(), nil
}

// Get waits until the task reaches a terminal state, polling the backend
// every interval, and returns its value. Failed tasks return ErrTaskFailed
// and revoked tasks ErrTaskRevoked.
func (r *AsyncResult) Get(ctx context.Context, interval time.Duration) (any, error) {
	if ctx == nil {
		return nil, ErrInvalidContext
	}

	if interval <= 0 {
		interval = defaultResultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, ok, err := r.Result(ctx)
		if err != nil {
			return nil, err
		}

		if ok && res.State.Ready() {
			return res.outcome()
		}

		select {
		case <-ctx.Done():
			return nil, ewrap.Wrapf(ctx.Err(), "wait for task %s", r.ID)
		case <-ticker.C:
		}
	}
}

func (res Result) outcome() (any, error) {
	switch res.State {
	case StateSuccess:
		return res.Value, nil
	case StateRevoked:
		return nil, ewrap.Wrapf(ErrTaskRevoked, "task %s", res.TaskID)
	case StatePending, StateStarted, StateRetry, StateFailure:
		return nil, ewrap.Wrapf(ErrTaskFailed, "task %s: %s", res.TaskID, res.Error)
	}

	return nil, ewrap.Wrapf(ErrTaskFailed, "task %s: unknown state %q", res.TaskID, res.State)
}
