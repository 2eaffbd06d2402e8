// Package middleware provides reusable task lifecycle hooks.
package middleware

import (
	"sync"
	"time"

	"github.com/google/uuid"

	taskapp "github.com/hyp3rd/go-taskapp"
)

// Logger describes the structured logger the hooks write to. *slog.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// loggerHooks logs task events and how long each run took.
type loggerHooks struct {
	logger  Logger
	started sync.Map // uuid.UUID -> time.Time
}

// NewLoggerHooks returns hooks that log every lifecycle event of a task.
func NewLoggerHooks(logger Logger) taskapp.Hooks {
	mw := &loggerHooks{logger: logger}

	return taskapp.Hooks{
		OnReceived: mw.received,
		OnStart:    mw.start,
		OnFinish:   mw.finish,
		OnRetry:    mw.retry,
	}
}

func (mw *loggerHooks) received(msg taskapp.Message) {
	mw.logger.Info("task received", "task", msg.Task, "task_id", msg.ID, "queue", msg.Queue, "retries", msg.Retries)
}

func (mw *loggerHooks) start(msg taskapp.Message) {
	mw.started.Store(msg.ID, time.Now())
}

func (mw *loggerHooks) finish(msg taskapp.Message, state taskapp.State, _ any, err error) {
	took := mw.took(msg.ID)

	if err != nil {
		mw.logger.Warn("task finished", "task", msg.Task, "task_id", msg.ID, "state", state, "took", took, "error", err)

		return
	}

	mw.logger.Info("task finished", "task", msg.Task, "task_id", msg.ID, "state", state, "took", took)
}

func (mw *loggerHooks) retry(msg taskapp.Message, delay time.Duration, attempt int) {
	mw.started.Delete(msg.ID)
	mw.logger.Warn("task retry scheduled", "task", msg.Task, "task_id", msg.ID, "attempt", attempt, "delay", delay)
}

func (mw *loggerHooks) took(id uuid.UUID) time.Duration {
	begin, ok := mw.started.LoadAndDelete(id)
	if !ok {
		return 0
	}

	return time.Since(begin.(time.Time)) //nolint:forcetypeassert
}

// Chain merges hooks so each event runs every non-nil callback in order.
func Chain(hooks ...taskapp.Hooks) taskapp.Hooks {
	return taskapp.Hooks{
		OnReceived: func(msg taskapp.Message) {
			for _, h := range hooks {
				if h.OnReceived != nil {
					h.OnReceived(msg)
				}
			}
		},
		OnStart: func(msg taskapp.Message) {
			for _, h := range hooks {
				if h.OnStart != nil {
					h.OnStart(msg)
				}
			}
		},
		OnFinish: func(msg taskapp.Message, state taskapp.State, value any, err error) {
			for _, h := range hooks {
				if h.OnFinish != nil {
					h.OnFinish(msg, state, value, err)
				}
			}
		},
		OnRetry: func(msg taskapp.Message, delay time.Duration, attempt int) {
			for _, h := range hooks {
				if h.OnRetry != nil {
					h.OnRetry(msg, delay, attempt)
				}
			}
		},
	}
}
