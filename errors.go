package taskapp

import "github.com/hyp3rd/ewrap"

// Errors returned by the application and its components.
var (
	// ErrAppNameRequired is returned when an app is created without a name.
	ErrAppNameRequired = ewrap.New("app name is required")
	// ErrAppExists is returned when an app with the same name already exists in the process.
	ErrAppExists = ewrap.New("app already exists")
	// ErrAppClosed is returned by operations on a closed app.
	ErrAppClosed = ewrap.New("app is closed")
	// ErrSettingsRequired is returned when configuration is bound from a nil settings object.
	ErrSettingsRequired = ewrap.New("settings object is required")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = ewrap.New("invalid configuration")
	// ErrInvalidContext is returned when a nil context is passed.
	ErrInvalidContext = ewrap.New("invalid context")

	// ErrTaskNameRequired indicates a missing task name during registration.
	ErrTaskNameRequired = ewrap.New("task name is required")
	// ErrTaskFuncRequired indicates a missing task function during registration.
	ErrTaskFuncRequired = ewrap.New("task function is required")
	// ErrTaskAlreadyRegistered indicates a duplicate task name during registration.
	ErrTaskAlreadyRegistered = ewrap.New("task already registered")
	// ErrTaskNotRegistered is returned when a task name is unknown to the app.
	ErrTaskNotRegistered = ewrap.New("task not registered")
	// ErrTaskFailed is returned by AsyncResult.Get for failed tasks.
	ErrTaskFailed = ewrap.New("task failed")
	// ErrTaskRevoked is returned by AsyncResult.Get for expired tasks.
	ErrTaskRevoked = ewrap.New("task revoked")
	// ErrTimeLimitExceeded is returned when a task runs past its time limit.
	ErrTimeLimitExceeded = ewrap.New("task time limit exceeded")
	// ErrInvalidRateLimit is returned for malformed rate limit expressions.
	ErrInvalidRateLimit = ewrap.New("invalid rate limit")

	// ErrUnsupportedBroker is returned for broker URLs with an unknown scheme.
	ErrUnsupportedBroker = ewrap.New("unsupported broker url")
	// ErrBrokerClosed is returned by a closed broker.
	ErrBrokerClosed = ewrap.New("broker is closed")
	// ErrUnsupportedResultBackend is returned for result backend URLs with an unknown scheme.
	ErrUnsupportedResultBackend = ewrap.New("unsupported result backend url")
	// ErrNoResultBackend is returned when results are requested without a configured backend.
	ErrNoResultBackend = ewrap.New("no result backend configured")

	// ErrBeatEntryInvalid is returned for malformed beat schedule entries.
	ErrBeatEntryInvalid = ewrap.New("invalid beat schedule entry")
	// ErrBeatEntryNotFound is returned when a beat entry name is unknown.
	ErrBeatEntryNotFound = ewrap.New("beat entry not found")
)
