package taskapp

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
	"github.com/redis/rueidis"
)

// RedisBroker implements Broker on Redis.
//
// Every queue is a sorted set of delivery tags scored by the time the
// message becomes due; message bodies live under their own key. Reserve
// moves the first due tag into the queue's processing set, scored by the
// visibility deadline. Tags whose deadline passed are moved back to the
// queue on the next Reserve.
type RedisBroker struct {
	client  rueidis.Client
	cfg     redisConfig
	publish *rueidis.Lua
	reserve *rueidis.Lua
	ack     *rueidis.Lua
	closed  atomic.Bool
}

// NewRedisBroker creates a RedisBroker on client.
func NewRedisBroker(client rueidis.Client, opts ...RedisOption) (*RedisBroker, error) {
	if client == nil {
		return nil, ewrap.New(errMsgRedisClientMissing)
	}

	return &RedisBroker{
		client:  client,
		cfg:     newRedisConfig(opts),
		publish: rueidis.NewLuaScript(redisPublishScript),
		reserve: rueidis.NewLuaScript(redisReserveScript),
		ack:     rueidis.NewLuaScript(redisAckScript),
	}, nil
}

// Publish adds msg to queue.
func (b *RedisBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if b.closed.Load() {
		return ErrBrokerClosed
	}

	queue = strings.TrimSpace(queue)
	if queue == "" {
		return ewrap.New("queue name is required")
	}

	msg.Queue = queue

	body, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	readyAt := time.Now()
	if msg.ETA != nil && msg.ETA.After(readyAt) {
		readyAt = *msg.ETA
	}

	tag := uuid.NewString()

	resp := b.publish.Exec(
		ctx,
		b.client,
		[]string{b.queueKey(queue), b.messageKey(tag)},
		[]string{
			strconv.FormatInt(readyAt.UnixMilli(), 10),
			tag,
			rueidis.BinaryString(body),
		},
	)

	err = resp.Error()
	if err != nil {
		return ewrap.Wrapf(err, "publish to queue %q", queue)
	}

	return nil
}

// Reserve returns the first due message from queues.
func (b *RedisBroker) Reserve(ctx context.Context, queues []string) (*Delivery, error) {
	if ctx == nil {
		return nil, ErrInvalidContext
	}

	if b.closed.Load() {
		return nil, ErrBrokerClosed
	}

	for _, queue := range queues {
		delivery, err := b.reserveFrom(ctx, queue)
		if err != nil {
			return nil, err
		}

		if delivery != nil {
			return delivery, nil
		}
	}

	return nil, nil
}

func (b *RedisBroker) reserveFrom(ctx context.Context, queue string) (*Delivery, error) {
	now := time.Now()

	resp := b.reserve.Exec(
		ctx,
		b.client,
		[]string{b.queueKey(queue), b.processingKey(queue)},
		[]string{
			strconv.FormatInt(now.UnixMilli(), 10),
			strconv.FormatInt(now.Add(b.cfg.visibility).UnixMilli(), 10),
			b.cfg.key(redisMessageKey) + redisKVSeparator,
		},
	)

	err := resp.Error()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, ewrap.Wrapf(err, "reserve from queue %q", queue)
	}

	values, err := resp.ToArray()
	if err != nil {
		return nil, ewrap.Wrap(err, "parse reserve result")
	}

	if len(values) != 2 {
		return nil, ewrap.Newf("unexpected reserve result length %d", len(values))
	}

	tag, err := values[0].ToString()
	if err != nil {
		return nil, ewrap.Wrap(err, "parse delivery tag")
	}

	body, err := values[1].ToString()
	if err != nil {
		return nil, ewrap.Wrap(err, "parse message body")
	}

	msg, err := DecodeMessage([]byte(body))
	if err != nil {
		// drop undecodable bodies
		_ = b.Ack(ctx, &Delivery{Queue: queue, Tag: tag})

		return nil, ewrap.Wrapf(err, "queue %q tag %s", queue, tag)
	}

	return &Delivery{Message: msg, Queue: queue, Tag: tag}, nil
}

// Ack removes a reserved message.
func (b *RedisBroker) Ack(ctx context.Context, delivery *Delivery) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if delivery == nil {
		return ewrap.New("delivery is nil")
	}

	if b.closed.Load() {
		return ErrBrokerClosed
	}

	resp := b.ack.Exec(
		ctx,
		b.client,
		[]string{b.processingKey(delivery.Queue), b.messageKey(delivery.Tag)},
		[]string{delivery.Tag},
	)

	err := resp.Error()
	if err != nil {
		return ewrap.Wrapf(err, "ack delivery %s", delivery.Tag)
	}

	return nil
}

// Len returns the number of messages waiting in queue.
func (b *RedisBroker) Len(ctx context.Context, queue string) (int64, error) {
	if ctx == nil {
		return 0, ErrInvalidContext
	}

	if b.closed.Load() {
		return 0, ErrBrokerClosed
	}

	count, err := b.client.Do(ctx, b.client.B().Zcard().Key(b.queueKey(queue)).Build()).AsInt64()
	if err != nil {
		return 0, ewrap.Wrapf(err, "length of queue %q", queue)
	}

	return count, nil
}

// Close closes the client when the broker created it.
func (b *RedisBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	if b.cfg.clientOwned {
		b.client.Close()
	}

	return nil
}

func (b *RedisBroker) queueKey(queue string) string {
	return b.cfg.key(redisQueueKey, queue)
}

func (b *RedisBroker) processingKey(queue string) string {
	return b.cfg.key(redisProcessingKey, queue)
}

func (b *RedisBroker) messageKey(tag string) string {
	return b.cfg.key(redisMessageKey, tag)
}

const redisPublishScript = `
local queue = KEYS[1]
local messageKey = KEYS[2]
local readyAt = tonumber(ARGV[1])
local tag = ARGV[2]
local body = ARGV[3]

redis.call("SET", messageKey, body)
redis.call("ZADD", queue, readyAt, tag)
return 1
`

const redisReserveScript = `
local queue = KEYS[1]
local processing = KEYS[2]
local now = tonumber(ARGV[1])
local deadline = tonumber(ARGV[2])
local messagePrefix = ARGV[3]

local expired = redis.call("ZRANGEBYSCORE", processing, "-inf", now)
for _, tag in ipairs(expired) do
  redis.call("ZREM", processing, tag)
  redis.call("ZADD", queue, now, tag)
end

local due = redis.call("ZRANGEBYSCORE", queue, "-inf", now, "LIMIT", 0, 1)
if #due == 0 then
  return false
end

local tag = due[1]
redis.call("ZREM", queue, tag)

local body = redis.call("GET", messagePrefix .. tag)
if not body then
  return false
end

redis.call("ZADD", processing, deadline, tag)
return {tag, body}
`

const redisAckScript = `
local processing = KEYS[1]
local messageKey = KEYS[2]
local tag = ARGV[1]

redis.call("ZREM", processing, tag)
redis.call("DEL", messageKey)
return 1
`
