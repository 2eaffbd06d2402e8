package taskapp

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	maxRetryBackoff    = 10 * time.Minute
	retryJitterDivisor = 5
	retryMixShiftA     = 13
	retryMixShiftB     = 7
	retryMixShiftC     = 17
)

// RetryError asks the worker to run the task again.
type RetryError struct {
	Err error
	// Countdown overrides the computed backoff when positive.
	Countdown time.Duration
}

// Retry wraps err so the task is retried after countdown, or after the
// task's backoff when countdown is zero. Retries stop once the task's max
// retries are exhausted and the task fails with err.
func Retry(err error, countdown time.Duration) error {
	return &RetryError{Err: err, Countdown: countdown}
}

func (e *RetryError) Error() string {
	if e.Err == nil {
		return "retry requested"
	}

	return "retry requested: " + e.Err.Error()
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func shouldRetry(task *Task, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeLimitExceeded) {
		return false
	}

	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		return true
	}

	return task.spec.AutoRetry
}

// retryDelay returns how long to wait before attempt number retries+1.
// The base delay doubles per attempt up to the larger of base and ten
// minutes, and is spread by a jitter derived from the task id.
func retryDelay(base time.Duration, err error, id uuid.UUID, retries int) time.Duration {
	var retryErr *RetryError
	if errors.As(err, &retryErr) && retryErr.Countdown > 0 {
		return retryErr.Countdown
	}

	if base <= 0 {
		return 0
	}

	ceiling := max(base, maxRetryBackoff)

	delay := base
	for range retries {
		delay *= 2
		if delay >= ceiling {
			delay = ceiling

			break
		}
	}

	return retryJitter(delay, id, retries)
}

// retryJitter moves delay by up to a tenth in either direction. The offset
// is a pure function of id and attempt.
func retryJitter(delay time.Duration, id uuid.UUID, attempt int) time.Duration {
	span := delay / retryJitterDivisor
	if span <= 0 {
		return delay
	}

	mix := binary.LittleEndian.Uint64(id[:8]) ^ binary.LittleEndian.Uint64(id[8:]) ^ uint64(attempt)
	mix ^= mix << retryMixShiftA
	mix ^= mix >> retryMixShiftB
	mix ^= mix << retryMixShiftC

	offset := time.Duration(mix%uint64(span)) - span/2

	return delay + offset
}
