package taskapp

import (
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/rueidis"
)

const (
	redisKVSeparator         = ":"
	redisQueueKey            = "queue"
	redisProcessingKey       = "processing"
	redisMessageKey          = "message"
	redisResultKey           = "result"
	redisDefaultVisibility   = DefaultVisibilityTimeout * time.Second
	errMsgRedisClientMissing = "redis client is nil"
)

// RedisOption configures the Redis broker and result backend.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix      string
	visibility  time.Duration
	clientOwned bool
}

func newRedisConfig(opts []RedisOption) redisConfig {
	cfg := redisConfig{
		prefix:     DefaultKeyPrefix,
		visibility: redisDefaultVisibility,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

// WithRedisKeyPrefix sets the prefix of every key. Prefixes without a hash
// tag are wrapped in braces so all keys land in the same cluster slot.
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(cfg *redisConfig) {
		if prefix != "" {
			cfg.prefix = prefix
		}
	}
}

// WithRedisVisibilityTimeout sets how long a reserved message stays hidden
// before another worker may reserve it again.
func WithRedisVisibilityTimeout(timeout time.Duration) RedisOption {
	return func(cfg *redisConfig) {
		if timeout > 0 {
			cfg.visibility = timeout
		}
	}
}

// withRedisClientOwned makes Close close the client.
func withRedisClientOwned() RedisOption {
	return func(cfg *redisConfig) {
		cfg.clientOwned = true
	}
}

func (cfg redisConfig) keyPrefix() string {
	if strings.Contains(cfg.prefix, "{") {
		return cfg.prefix
	}

	return "{" + cfg.prefix + "}"
}

func (cfg redisConfig) key(parts ...string) string {
	return cfg.keyPrefix() + redisKVSeparator + strings.Join(parts, redisKVSeparator)
}

func newRedisClient(rawURL string) (rueidis.Client, error) {
	options, err := rueidis.ParseURL(rawURL)
	if err != nil {
		return nil, ewrap.Wrap(err, "parse redis url")
	}

	client, err := rueidis.NewClient(options)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to create redis client")
	}

	return client, nil
}
