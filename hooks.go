package taskapp

import (
	"log/slog"
	"time"
)

// Hooks defines optional callbacks for task lifecycle events observed by
// workers of the app.
type Hooks struct {
	OnReceived func(msg Message)
	OnStart    func(msg Message)
	OnFinish   func(msg Message, state State, value any, err error)
	OnRetry    func(msg Message, delay time.Duration, attempt int)
}

// SetHooks configures callbacks for task lifecycle events.
func (a *App) SetHooks(hooks Hooks) {
	h := hooks
	a.hooks.Store(&h)
}

func (a *App) hookReceived(msg Message) {
	hooks := a.hooks.Load()
	if hooks == nil || hooks.OnReceived == nil {
		return
	}

	a.runHook("received", func() { hooks.OnReceived(msg) })
}

func (a *App) hookStart(msg Message) {
	hooks := a.hooks.Load()
	if hooks == nil || hooks.OnStart == nil {
		return
	}

	a.runHook("start", func() { hooks.OnStart(msg) })
}

func (a *App) hookFinish(msg Message, state State, value any, err error) {
	hooks := a.hooks.Load()
	if hooks == nil || hooks.OnFinish == nil {
		return
	}

	a.runHook("finish", func() { hooks.OnFinish(msg, state, value, err) })
}

func (a *App) hookRetry(msg Message, delay time.Duration, attempt int) {
	hooks := a.hooks.Load()
	if hooks == nil || hooks.OnRetry == nil {
		return
	}

	a.runHook("retry", func() { hooks.OnRetry(msg, delay, attempt) })
}

func (a *App) runHook(event string, fn func()) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			logger := a.logger
			if logger == nil {
				logger = slog.Default()
			}

			logger.Error("task hook panic", "event", event, "error", recovered)
		}
	}()

	fn()
}
