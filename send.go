package taskapp

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

// SendOption configures a single task invocation.
type SendOption func(*sendConfig)

type sendConfig struct {
	id        uuid.UUID
	queue     string
	countdown time.Duration
	eta       time.Time
	expires   time.Time
}

// WithTaskID sets the invocation id instead of generating one.
func WithTaskID(id uuid.UUID) SendOption {
	return func(cfg *sendConfig) {
		cfg.id = id
	}
}

// WithQueue sends the task to queue, overriding routes.
func WithQueue(queue string) SendOption {
	return func(cfg *sendConfig) {
		cfg.queue = strings.TrimSpace(queue)
	}
}

// WithCountdown delays execution by d.
func WithCountdown(d time.Duration) SendOption {
	return func(cfg *sendConfig) {
		cfg.countdown = d
	}
}

// WithETA delays execution until eta.
func WithETA(eta time.Time) SendOption {
	return func(cfg *sendConfig) {
		cfg.eta = eta
	}
}

// WithExpires discards the task when it has not started by at.
func WithExpires(at time.Time) SendOption {
	return func(cfg *sendConfig) {
		cfg.expires = at
	}
}

// SendTask sends the task called name. The task does not have to be
// registered locally unless task_always_eager is set.
func (a *App) SendTask(ctx context.Context, name string, args []any, kwargs map[string]any, opts ...SendOption) (*AsyncResult, error) {
	if ctx == nil {
		return nil, ErrInvalidContext
	}

	if a.closed.Load() {
		return nil, ErrAppClosed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTaskNameRequired
	}

	cfg := a.config()

	var sc sendConfig

	for _, opt := range opts {
		if opt != nil {
			opt(&sc)
		}
	}

	task, registered := a.registry.lookup(name)

	msg := Message{
		ID:      sc.id,
		Task:    name,
		Args:    args,
		Kwargs:  kwargs,
		Queue:   a.route(cfg, name, task, sc.queue),
		Retries: 0,
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	now := time.Now()

	switch {
	case !sc.eta.IsZero():
		eta := sc.eta
		msg.ETA = &eta
	case sc.countdown > 0:
		eta := now.Add(sc.countdown)
		msg.ETA = &eta
	}

	if !sc.expires.IsZero() {
		expires := sc.expires
		msg.Expires = &expires
	}

	backend, err := a.ResultBackend()
	if err != nil {
		return nil, err
	}

	if cfg.TaskAlwaysEager {
		if !registered {
			return nil, ewrap.Wrapf(ErrTaskNotRegistered, "task %q", name)
		}

		return a.applyEager(ctx, cfg, task, msg, backend)
	}

	broker, err := a.Broker()
	if err != nil {
		return nil, err
	}

	err = broker.Publish(ctx, msg.Queue, msg)
	if err != nil {
		return nil, ewrap.Wrapf(err, "send task %q", name)
	}

	a.metrics.sent.Add(1)

	a.logger.Debug("task sent",
		"task_id", msg.ID,
		"task", name,
		"queue", msg.Queue)

	return newAsyncResult(msg.ID, name, backend), nil
}

// route picks the queue: explicit option, task_routes, task declaration, default queue.
func (a *App) route(cfg Config, name string, task *Task, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if queue := cfg.QueueFor(name); queue != "" {
		return queue
	}

	if task != nil && task.spec.Queue != "" {
		return task.spec.Queue
	}

	return cfg.TaskDefaultQueue
}

// applyEager runs the task in the caller. Retries requested by the task are
// attempted immediately, without delay.
func (a *App) applyEager(ctx context.Context, cfg Config, task *Task, msg Message, backend ResultBackend) (*AsyncResult, error) {
	maxRetries := task.maxRetries(cfg)

	var (
		value any
		err   error
	)

	for {
		value, err = a.invoke(ctx, cfg, task, msg)
		if err == nil || !shouldRetry(task, err) || msg.Retries >= maxRetries {
			break
		}

		msg.Retries++
		a.metrics.retried.Add(1)
	}

	res := Result{
		TaskID:  msg.ID,
		Task:    msg.Task,
		State:   StateSuccess,
		Value:   value,
		Retries: msg.Retries,
		DoneAt:  time.Now().UTC(),
	}

	if err != nil {
		res.State = StateFailure
		res.Value = nil
		res.Error = err.Error()

		a.metrics.failed.Add(1)
	} else {
		a.metrics.succeeded.Add(1)
	}

	if backend != nil {
		storeErr := backend.Store(ctx, res, cfg.ResultTTL())
		if storeErr != nil {
			a.logger.Error("store eager result", "task_id", msg.ID, "error", storeErr)
		}
	}

	async := newAsyncResult(msg.ID, msg.Task, backend)
	async.local = &res

	if err != nil && cfg.TaskEagerPropagates {
		return async, ewrap.Wrapf(err, "task %q", msg.Task)
	}

	return async, nil
}
