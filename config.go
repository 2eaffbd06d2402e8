package taskapp

import (
	"maps"
	"math"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBrokerURL keeps messages in process memory.
	DefaultBrokerURL = "memory://"
	// DefaultQueueName is the queue used when no route applies.
	DefaultQueueName = "default"
	// DefaultSerializer is the only supported message serializer.
	DefaultSerializer = "json"
	// DefaultResultExpires is how long results are kept, in seconds.
	DefaultResultExpires = 86400
	// DefaultRetryDelay is the base retry delay, in seconds.
	DefaultRetryDelay = 180
	// DefaultMaxRetries is the default maximum number of retries.
	DefaultMaxRetries = 3
	// DefaultPollingInterval is the broker polling interval, in seconds.
	DefaultPollingInterval = 1.0
	// DefaultKeyPrefix prefixes every key written to Redis.
	DefaultKeyPrefix = "taskapp"
	// DefaultVisibilityTimeout is how long a reserved Redis message stays
	// invisible before it is redelivered, in seconds.
	DefaultVisibilityTimeout = 3600
)

// RouteSpec routes a task to a queue.
type RouteSpec struct {
	Queue string `json:"queue"`
}

// BeatEntry describes a periodic task.
type BeatEntry struct {
	Task     string         `json:"task"`
	Schedule string         `json:"schedule"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
	Queue    string         `json:"queue,omitempty"`
}

// TransportOptions tunes the broker transport.
type TransportOptions struct {
	GlobalKeyPrefix   string  `json:"global_keyprefix"`
	PollingInterval   float64 `json:"polling_interval"`
	VisibilityTimeout float64 `json:"visibility_timeout"`
}

// Visibility returns visibility_timeout as a duration.
func (o TransportOptions) Visibility() time.Duration {
	return seconds(o.VisibilityTimeout)
}

// Config is the typed view of the namespaced options. Durations are expressed
// in seconds, the way settings modules spell them.
type Config struct {
	BrokerURL              string               `json:"broker_url"`
	BrokerTransportOptions TransportOptions     `json:"broker_transport_options"`
	ResultBackend          string               `json:"result_backend"`
	ResultExpires          float64              `json:"result_expires"`
	TaskDefaultQueue       string               `json:"task_default_queue"`
	TaskSerializer         string               `json:"task_serializer"`
	TaskAlwaysEager        bool                 `json:"task_always_eager"`
	TaskEagerPropagates    bool                 `json:"task_eager_propagates"`
	TaskTimeLimit          float64              `json:"task_time_limit"`
	TaskDefaultRetryDelay  float64              `json:"task_default_retry_delay"`
	TaskMaxRetries         int                  `json:"task_max_retries"`
	TaskDefaultRateLimit   string               `json:"task_default_rate_limit"`
	TaskRoutes             map[string]RouteSpec `json:"task_routes"`
	WorkerConcurrency      int                  `json:"worker_concurrency"`
	Timezone               string               `json:"timezone"`
	BeatSchedule           map[string]BeatEntry `json:"beat_schedule"`
	Imports                []string             `json:"imports"`
}

// DefaultConfig returns the configuration used for unset options.
func DefaultConfig() Config {
	return Config{
		BrokerURL: DefaultBrokerURL,
		BrokerTransportOptions: TransportOptions{
			GlobalKeyPrefix:   DefaultKeyPrefix,
			PollingInterval:   DefaultPollingInterval,
			VisibilityTimeout: DefaultVisibilityTimeout,
		},
		ResultExpires:         DefaultResultExpires,
		TaskDefaultQueue:      DefaultQueueName,
		TaskSerializer:        DefaultSerializer,
		TaskDefaultRetryDelay: DefaultRetryDelay,
		TaskMaxRetries:        DefaultMaxRetries,
		WorkerConcurrency:     runtime.NumCPU(),
		Timezone:              "UTC",
	}
}

// ResultTTL returns result_expires as a duration.
func (c Config) ResultTTL() time.Duration {
	return seconds(c.ResultExpires)
}

// TimeLimit returns task_time_limit as a duration; zero means no limit.
func (c Config) TimeLimit() time.Duration {
	return seconds(c.TaskTimeLimit)
}

// RetryDelay returns task_default_retry_delay as a duration.
func (c Config) RetryDelay() time.Duration {
	return seconds(c.TaskDefaultRetryDelay)
}

// PollingInterval returns the broker polling interval.
func (c Config) PollingInterval() time.Duration {
	return seconds(c.BrokerTransportOptions.PollingInterval)
}

// Location returns the time zone used by beat.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// QueueFor returns the routed queue for a task, or "" when no route applies.
func (c Config) QueueFor(task string) string {
	route, ok := c.TaskRoutes[task]
	if !ok {
		return ""
	}

	return strings.TrimSpace(route.Queue)
}

// Validate checks the configuration for values the app cannot work with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BrokerURL) == "" {
		return ewrap.Wrap(ErrInvalidConfig, "broker_url is required")
	}

	if c.TaskSerializer != DefaultSerializer {
		return ewrap.Wrapf(ErrInvalidConfig, "task_serializer %q is not supported", c.TaskSerializer)
	}

	if strings.TrimSpace(c.TaskDefaultQueue) == "" {
		return ewrap.Wrap(ErrInvalidConfig, "task_default_queue is required")
	}

	switch {
	case c.ResultExpires < 0:
		return ewrap.Wrap(ErrInvalidConfig, "result_expires must not be negative")
	case c.TaskTimeLimit < 0:
		return ewrap.Wrap(ErrInvalidConfig, "task_time_limit must not be negative")
	case c.TaskDefaultRetryDelay < 0:
		return ewrap.Wrap(ErrInvalidConfig, "task_default_retry_delay must not be negative")
	case c.TaskMaxRetries < 0:
		return ewrap.Wrap(ErrInvalidConfig, "task_max_retries must not be negative")
	case c.BrokerTransportOptions.PollingInterval <= 0:
		return ewrap.Wrap(ErrInvalidConfig, "broker_transport_options.polling_interval must be positive")
	case c.BrokerTransportOptions.VisibilityTimeout <= 0:
		return ewrap.Wrap(ErrInvalidConfig, "broker_transport_options.visibility_timeout must be positive")
	}

	_, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return ewrap.Wrapf(ErrInvalidConfig, "timezone %q: %v", c.Timezone, err)
	}

	_, err = ParseRateLimit(c.TaskDefaultRateLimit)
	if err != nil {
		return ewrap.Wrapf(ErrInvalidConfig, "task_default_rate_limit: %v", err)
	}

	for name, entry := range c.BeatSchedule {
		if strings.TrimSpace(entry.Task) == "" || strings.TrimSpace(entry.Schedule) == "" {
			return ewrap.Wrapf(ErrInvalidConfig, "beat_schedule entry %q needs task and schedule", name)
		}
	}

	return nil
}

// decodeConfig applies the namespaced options on top of the defaults.
func decodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()

	if len(raw) > 0 {
		payload, err := json.Marshal(raw)
		if err != nil {
			return Config{}, ewrap.Wrap(ErrInvalidConfig, err.Error())
		}

		err = json.Unmarshal(payload, &cfg)
		if err != nil {
			return Config{}, ewrap.Wrap(ErrInvalidConfig, err.Error())
		}
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = runtime.NumCPU()
	}

	if cfg.BrokerTransportOptions.GlobalKeyPrefix == "" {
		cfg.BrokerTransportOptions.GlobalKeyPrefix = DefaultKeyPrefix
	}

	err := cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Conf holds the options bound to an app.
type Conf struct {
	raw    map[string]any
	config Config
}

func newConf(raw map[string]any) (*Conf, error) {
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}

	copied := make(map[string]any, len(raw))
	maps.Copy(copied, raw)

	return &Conf{raw: copied, config: cfg}, nil
}

// Raw returns a copy of exactly the options that were bound, without defaults.
func (c *Conf) Raw() map[string]any {
	out := make(map[string]any, len(c.raw))
	maps.Copy(out, c.raw)

	return out
}

// Get returns a bound option by its stripped, lower-case key.
func (c *Conf) Get(key string) (any, bool) {
	value, ok := c.raw[strings.ToLower(strings.TrimSpace(key))]

	return value, ok
}

// Config returns the typed configuration with defaults applied.
func (c *Conf) Config() Config {
	return c.config
}

// ParseRateLimit parses "N", "N/s", "N/m" or "N/h". An empty string means no limit.
func ParseRateLimit(expr string) (rate.Limit, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return rate.Inf, nil
	}

	count, unit, found := strings.Cut(expr, "/")
	if !found {
		unit = "s"
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
	if err != nil || n <= 0 {
		return 0, ewrap.Wrapf(ErrInvalidRateLimit, "%q", expr)
	}

	switch strings.TrimSpace(unit) {
	case "s":
		return rate.Limit(n), nil
	case "m":
		return rate.Limit(n / time.Minute.Seconds()), nil
	case "h":
		return rate.Limit(n / time.Hour.Seconds()), nil
	default:
		return 0, ewrap.Wrapf(ErrInvalidRateLimit, "%q", expr)
	}
}

// seconds converts a setting in seconds, saturating at the longest duration.
func seconds(value float64) time.Duration {
	if value <= 0 || math.IsNaN(value) {
		return 0
	}

	if value >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(value * float64(time.Second))
}
