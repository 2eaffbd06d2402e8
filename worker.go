package taskapp

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	"golang.org/x/time/rate"
)

// ErrWorkerRunning is returned when Run is called on a running worker.
var ErrWorkerRunning = ewrap.New("worker already running")

// WorkerOption configures a Worker.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	queues       []string
	concurrency  int
	pollInterval time.Duration
}

// WithQueues sets the queues the worker consumes, in priority order.
func WithQueues(queues ...string) WorkerOption {
	return func(cfg *workerConfig) {
		for _, queue := range queues {
			queue = strings.TrimSpace(queue)
			if queue != "" && !slices.Contains(cfg.queues, queue) {
				cfg.queues = append(cfg.queues, queue)
			}
		}
	}
}

// WithConcurrency sets the number of tasks executed at once.
func WithConcurrency(concurrency int) WorkerOption {
	return func(cfg *workerConfig) {
		if concurrency > 0 {
			cfg.concurrency = concurrency
		}
	}
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if interval > 0 {
			cfg.pollInterval = interval
		}
	}
}

// Worker consumes task messages from the broker and executes them.
type Worker struct {
	app     *App
	cfg     workerConfig
	broker  Broker
	backend ResultBackend

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	running atomic.Bool
}

// Worker creates a worker for the app. Unset options fall back to the
// bound configuration: the default queue, worker_concurrency and the
// broker polling interval.
func (a *App) Worker(opts ...WorkerOption) (*Worker, error) {
	var cfg workerConfig

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	conf := a.config()

	if len(cfg.queues) == 0 {
		cfg.queues = []string{conf.TaskDefaultQueue}
	}

	if cfg.concurrency <= 0 {
		cfg.concurrency = conf.WorkerConcurrency
	}

	if cfg.pollInterval <= 0 {
		cfg.pollInterval = conf.PollingInterval()
	}

	broker, err := a.Broker()
	if err != nil {
		return nil, err
	}

	backend, err := a.ResultBackend()
	if err != nil {
		return nil, err
	}

	return &Worker{
		app:      a,
		cfg:      cfg,
		broker:   broker,
		backend:  backend,
		limiters: map[string]*rate.Limiter{},
	}, nil
}

// Queues returns the consumed queues.
func (w *Worker) Queues() []string {
	return slices.Clone(w.cfg.queues)
}

// Concurrency returns the number of worker goroutines.
func (w *Worker) Concurrency() int {
	return w.cfg.concurrency
}

// Run consumes messages until ctx is cancelled, then waits for the tasks in
// progress to finish.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	w.app.logger.Info("worker started",
		"queues", w.cfg.queues,
		"concurrency", w.cfg.concurrency,
		"tasks", len(w.app.TaskNames()))

	var wg sync.WaitGroup

	for range w.cfg.concurrency {
		wg.Go(func() {
			w.consume(ctx)
		})
	}

	wg.Wait()

	w.app.logger.Info("worker stopped")

	return nil
}

func (w *Worker) consume(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.app.logger.Error("process task message", "error", err)
		}

		if processed && err == nil {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		timer.Reset(w.cfg.pollInterval)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// ProcessOne reserves one message and handles it. It reports false when no
// message was due.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if ctx == nil {
		return false, ErrInvalidContext
	}

	if ctx.Err() != nil {
		return false, ewrap.Wrap(ctx.Err(), "process task message")
	}

	delivery, err := w.broker.Reserve(ctx, w.cfg.queues)
	if err != nil {
		return false, err
	}

	if delivery == nil {
		return false, nil
	}

	return true, w.handle(ctx, delivery)
}

func (w *Worker) handle(ctx context.Context, delivery *Delivery) error {
	app := w.app
	cfg := app.config()
	msg := delivery.Message
	now := time.Now()

	app.metrics.received.Add(1)
	app.hookReceived(msg)

	if msg.Expired(now) {
		app.logger.Info("task expired", "task_id", msg.ID, "task", msg.Task)

		app.metrics.revoked.Add(1)
		w.finish(ctx, cfg, msg, StateRevoked, nil, ErrTaskRevoked)

		return w.ack(ctx, delivery)
	}

	if msg.Due(now) > 0 {
		return w.requeue(ctx, delivery, msg)
	}

	task, ok := app.registry.lookup(msg.Task)
	if !ok {
		err := ewrap.Wrapf(ErrTaskNotRegistered, "task %q", msg.Task)

		app.logger.Error("received unregistered task", "task_id", msg.ID, "task", msg.Task)

		app.metrics.failed.Add(1)
		w.finish(ctx, cfg, msg, StateFailure, nil, err)

		return w.ack(ctx, delivery)
	}

	limiter := w.limiter(task, cfg)
	if limiter != nil {
		err := limiter.Wait(ctx)
		if err != nil {
			return w.requeue(ctx, delivery, msg)
		}
	}

	w.store(ctx, cfg, Result{TaskID: msg.ID, Task: msg.Task, State: StateStarted, Retries: msg.Retries})
	app.hookStart(msg)

	app.metrics.running.Add(1)

	started := time.Now()
	value, err := app.invoke(ctx, cfg, task, msg)
	latency := time.Since(started)

	app.metrics.running.Add(-1)
	app.metrics.observeLatency(latency)
	app.recordOTelLatency(context.WithoutCancel(ctx), latency)

	switch {
	case err == nil:
		app.logger.Debug("task succeeded", "task_id", msg.ID, "task", msg.Task, "duration", latency)

		app.metrics.succeeded.Add(1)
		w.finish(ctx, cfg, msg, StateSuccess, value, nil)

	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		app.logger.Warn("task interrupted by shutdown", "task_id", msg.ID, "task", msg.Task)

		return w.requeue(ctx, delivery, msg)

	case shouldRetry(task, err) && msg.Retries < task.maxRetries(cfg):
		if w.retry(ctx, cfg, task, delivery, err) {
			break
		}

		app.metrics.failed.Add(1)
		w.finish(ctx, cfg, msg, StateFailure, nil, err)

	default:
		app.logger.Error("task failed", "task_id", msg.ID, "task", msg.Task, "error", err)

		app.metrics.failed.Add(1)
		w.finish(ctx, cfg, msg, StateFailure, nil, err)
	}

	return w.ack(ctx, delivery)
}

// retry republishes the message with the next attempt number. It reports
// false when the message could not be republished.
func (w *Worker) retry(ctx context.Context, cfg Config, task *Task, delivery *Delivery, cause error) bool {
	msg := delivery.Message
	delay := retryDelay(task.retryDelay(cfg), cause, msg.ID, msg.Retries)

	next := msg
	next.Retries++

	eta := time.Now().Add(delay)
	next.ETA = &eta

	err := w.broker.Publish(context.WithoutCancel(ctx), delivery.Queue, next)
	if err != nil {
		w.app.logger.Error("republish task for retry", "task_id", msg.ID, "task", msg.Task, "error", err)

		return false
	}

	w.app.logger.Warn("task retry scheduled",
		"task_id", msg.ID,
		"task", msg.Task,
		"attempt", next.Retries,
		"delay", delay,
		"error", cause)

	w.app.metrics.retried.Add(1)
	w.store(ctx, cfg, Result{
		TaskID:  msg.ID,
		Task:    msg.Task,
		State:   StateRetry,
		Error:   cause.Error(),
		Retries: next.Retries,
	})
	w.app.hookRetry(msg, delay, next.Retries)

	return true
}

// requeue puts the message back unchanged and releases the delivery.
func (w *Worker) requeue(ctx context.Context, delivery *Delivery, msg Message) error {
	detached := context.WithoutCancel(ctx)

	err := w.broker.Publish(detached, delivery.Queue, msg)
	if err != nil {
		return ewrap.Wrapf(err, "requeue task %s", msg.ID)
	}

	return w.ack(detached, delivery)
}

func (w *Worker) ack(ctx context.Context, delivery *Delivery) error {
	err := w.broker.Ack(context.WithoutCancel(ctx), delivery)
	if err != nil {
		return ewrap.Wrapf(err, "ack task %s", delivery.Message.ID)
	}

	return nil
}

func (w *Worker) finish(ctx context.Context, cfg Config, msg Message, state State, value any, err error) {
	res := Result{
		TaskID:  msg.ID,
		Task:    msg.Task,
		State:   state,
		Value:   value,
		Retries: msg.Retries,
		DoneAt:  time.Now().UTC(),
	}

	if err != nil {
		res.Error = err.Error()
	}

	w.store(ctx, cfg, res)
	w.app.hookFinish(msg, state, value, err)
}

func (w *Worker) store(ctx context.Context, cfg Config, res Result) {
	if w.backend == nil {
		return
	}

	err := w.backend.Store(context.WithoutCancel(ctx), res, cfg.ResultTTL())
	if err != nil {
		w.app.logger.Error("store task result", "task_id", res.TaskID, "state", res.State, "error", err)
	}
}

func (w *Worker) limiter(task *Task, cfg Config) *rate.Limiter {
	limit, err := ParseRateLimit(task.rateLimit(cfg))
	if err != nil || limit == rate.Inf {
		return nil
	}

	w.limitersMu.Lock()
	defer w.limitersMu.Unlock()

	limiter, ok := w.limiters[task.Name()]
	if !ok || limiter.Limit() != limit {
		limiter = rate.NewLimiter(limit, 1)
		w.limiters[task.Name()] = limiter
	}

	return limiter
}

type invocation struct {
	value any
	err   error
}

// invoke runs the task body under the task time limit and converts panics
// into errors. A body that overruns its limit is abandoned and keeps running
// in its own goroutine until it returns.
func (a *App) invoke(ctx context.Context, cfg Config, task *Task, msg Message) (any, error) {
	execCtx := ctx

	limit := task.timeLimit(cfg)
	if limit > 0 {
		var cancel context.CancelFunc

		execCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	execCtx, span := a.startSpan(execCtx, msg)

	done := make(chan invocation, 1)

	go func() {
		var out invocation

		defer func() {
			if r := recover(); r != nil {
				out = invocation{err: ewrap.Newf("task panic: %v", r)}
			}

			done <- out
		}()

		out.value, out.err = task.spec.Fn(execCtx, msg.Args, msg.Kwargs)
	}()

	var out invocation

	select {
	case out = <-done:
	case <-execCtx.Done():
		out = invocation{err: execCtx.Err()}
	}

	if out.err != nil && limit > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out = invocation{err: ewrap.Wrapf(ErrTimeLimitExceeded, "task %q exceeded %s", msg.Task, limit)}
	}

	state := StateSuccess
	if out.err != nil {
		state = StateFailure
	}

	endSpan(span, state, out.err)

	return out.value, out.err
}
