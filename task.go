package taskapp

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

// State is the lifecycle state of a task invocation.
type State string

// State values.
const (
	// StatePending means the task is unknown to the result backend or waiting in a queue.
	StatePending State = "PENDING"
	// StateStarted means a worker is executing the task.
	StateStarted State = "STARTED"
	// StateRetry means the task failed and was scheduled again.
	StateRetry State = "RETRY"
	// StateSuccess means the task returned without error.
	StateSuccess State = "SUCCESS"
	// StateFailure means the task failed and will not be retried.
	StateFailure State = "FAILURE"
	// StateRevoked means the task expired before it could run.
	StateRevoked State = "REVOKED"
)

// Ready reports whether the state is terminal.
func (s State) Ready() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	case StatePending, StateStarted, StateRetry:
		return false
	}

	return false
}

// TaskFunc is the signature of a task body.
type TaskFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// TaskSpec declares a task.
type TaskSpec struct {
	// Name is the unique task name, conventionally "<app>.<function>".
	Name string
	// Fn is the task body.
	Fn TaskFunc
	// Queue overrides the default queue when no route applies.
	Queue string
	// MaxRetries overrides task_max_retries when set.
	MaxRetries *int
	// RetryDelay overrides task_default_retry_delay when positive.
	RetryDelay time.Duration
	// RateLimit overrides task_default_rate_limit ("10/s", "100/m").
	RateLimit string
	// TimeLimit overrides task_time_limit when positive.
	TimeLimit time.Duration
	// AutoRetry retries on any error, not only on errors built with Retry.
	AutoRetry bool
}

func (spec TaskSpec) validate() (TaskSpec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return TaskSpec{}, ErrTaskNameRequired
	}

	if spec.Fn == nil {
		return TaskSpec{}, ewrap.Wrapf(ErrTaskFuncRequired, "task %q", spec.Name)
	}

	if spec.MaxRetries != nil && *spec.MaxRetries < 0 {
		return TaskSpec{}, ewrap.Wrapf(ErrInvalidConfig, "task %q max retries must not be negative", spec.Name)
	}

	_, err := ParseRateLimit(spec.RateLimit)
	if err != nil {
		return TaskSpec{}, ewrap.Wrapf(err, "task %q", spec.Name)
	}

	spec.Queue = strings.TrimSpace(spec.Queue)

	return spec, nil
}

// Task is a task registered with an App.
type Task struct {
	app  *App
	spec TaskSpec
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.spec.Name
}

// Spec returns the task declaration.
func (t *Task) Spec() TaskSpec {
	return t.spec
}

// Call runs the task body synchronously in the caller.
func (t *Task) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return t.spec.Fn(ctx, args, kwargs)
}

// Delay sends the task with positional arguments.
func (t *Task) Delay(ctx context.Context, args ...any) (*AsyncResult, error) {
	return t.ApplyAsync(ctx, args, nil)
}

// ApplyAsync sends the task with arguments and send options.
func (t *Task) ApplyAsync(ctx context.Context, args []any, kwargs map[string]any, opts ...SendOption) (*AsyncResult, error) {
	return t.app.SendTask(ctx, t.spec.Name, args, kwargs, opts...)
}

func (t *Task) maxRetries(cfg Config) int {
	if t.spec.MaxRetries != nil {
		return *t.spec.MaxRetries
	}

	return cfg.TaskMaxRetries
}

func (t *Task) retryDelay(cfg Config) time.Duration {
	if t.spec.RetryDelay > 0 {
		return t.spec.RetryDelay
	}

	return cfg.RetryDelay()
}

func (t *Task) timeLimit(cfg Config) time.Duration {
	if t.spec.TimeLimit > 0 {
		return t.spec.TimeLimit
	}

	return cfg.TimeLimit()
}

func (t *Task) rateLimit(cfg Config) string {
	if t.spec.RateLimit != "" {
		return t.spec.RateLimit
	}

	return cfg.TaskDefaultRateLimit
}

// Message is the wire representation of a task invocation.
type Message struct {
	ID      uuid.UUID      `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Expires *time.Time     `json:"expires,omitempty"`
	Queue   string         `json:"queue"`
}

// Expired reports whether the message expired before now.
func (m Message) Expired(now time.Time) bool {
	return m.Expires != nil && now.After(*m.Expires)
}

// Due returns how long until the message may run; zero when it is due.
func (m Message) Due(now time.Time) time.Duration {
	if m.ETA == nil || !m.ETA.After(now) {
		return 0
	}

	return m.ETA.Sub(now)
}

// EncodeMessage serializes a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Args == nil {
		msg.Args = []any{}
	}

	if msg.Kwargs == nil {
		msg.Kwargs = map[string]any{}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, ewrap.Wrap(err, "encode task message")
	}

	return data, nil
}

// DecodeMessage parses a serialized message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message

	err := json.Unmarshal(data, &msg)
	if err != nil {
		return Message{}, ewrap.Wrap(err, "decode task message")
	}

	if msg.ID == uuid.Nil {
		return Message{}, ewrap.New("task message id is required")
	}

	if msg.Task == "" {
		return Message{}, ewrap.New("task message name is required")
	}

	return msg, nil
}
