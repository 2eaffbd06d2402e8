package taskapp

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
	"github.com/redis/rueidis"
)

// RedisResultBackend stores results as JSON strings that expire with the
// configured TTL.
type RedisResultBackend struct {
	client rueidis.Client
	cfg    redisConfig
	store  *rueidis.Lua
	closed atomic.Bool
}

// NewRedisResultBackend creates a RedisResultBackend on client.
func NewRedisResultBackend(client rueidis.Client, opts ...RedisOption) (*RedisResultBackend, error) {
	if client == nil {
		return nil, ewrap.New(errMsgRedisClientMissing)
	}

	return &RedisResultBackend{
		client: client,
		cfg:    newRedisConfig(opts),
		store:  rueidis.NewLuaScript(redisStoreResultScript),
	}, nil
}

// Store records res.
func (b *RedisResultBackend) Store(ctx context.Context, res Result, ttl time.Duration) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if b.closed.Load() {
		return ewrap.New("result backend is closed")
	}

	data, err := encodeResult(res)
	if err != nil {
		return err
	}

	resp := b.store.Exec(
		ctx,
		b.client,
		[]string{b.resultKey(res.TaskID)},
		[]string{rueidis.BinaryString(data), strconv.FormatInt(ttl.Milliseconds(), 10)},
	)

	err = resp.Error()
	if err != nil {
		return ewrap.Wrapf(err, "store result of task %s", res.TaskID)
	}

	return nil
}

// Get returns the stored result of id.
func (b *RedisResultBackend) Get(ctx context.Context, id uuid.UUID) (Result, bool, error) {
	if ctx == nil {
		return Result{}, false, ErrInvalidContext
	}

	data, err := b.client.Do(ctx, b.client.B().Get().Key(b.resultKey(id)).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return Result{}, false, nil
		}

		return Result{}, false, ewrap.Wrapf(err, "get result of task %s", id)
	}

	res, err := decodeResult(data)
	if err != nil {
		return Result{}, false, err
	}

	return res, true, nil
}

// Close closes the client when the backend created it.
func (b *RedisResultBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	if b.cfg.clientOwned {
		b.client.Close()
	}

	return nil
}

func (b *RedisResultBackend) resultKey(id uuid.UUID) string {
	return b.cfg.key(redisResultKey, id.String())
}

const redisStoreResultScript = `
local key = KEYS[1]
local body = ARGV[1]
local ttl = tonumber(ARGV[2])

if ttl > 0 then
  redis.call("SET", key, body, "PX", ttl)
else
  redis.call("SET", key, body)
end
return 1
`
