package taskapp

import (
	"container/heap"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

// Broker transports task messages between senders and workers.
//
// Messages published with a future ETA must not be returned by Reserve
// before they are due. A reserved message stays owned by the caller until it
// is acknowledged.
type Broker interface {
	// Publish appends msg to queue.
	Publish(ctx context.Context, queue string, msg Message) error
	// Reserve returns the first due message from queues, checked in order.
	// It returns nil, nil when no message is due.
	Reserve(ctx context.Context, queues []string) (*Delivery, error)
	// Ack removes a reserved message for good.
	Ack(ctx context.Context, delivery *Delivery) error
	// Len returns the number of messages waiting in queue, due or not.
	Len(ctx context.Context, queue string) (int64, error)
	// Close releases the broker resources.
	Close() error
}

// Delivery is a reserved message.
type Delivery struct {
	Message Message
	Queue   string
	// Tag identifies this delivery of the message within the broker.
	Tag string
}

// OpenBroker connects to the broker described by rawURL. Supported schemes
// are memory, redis and rediss.
func OpenBroker(rawURL string, transport TransportOptions) (Broker, error) {
	scheme, err := urlScheme(rawURL)
	if err != nil {
		return nil, ewrap.Wrapf(ErrUnsupportedBroker, "%q: %v", rawURL, err)
	}

	switch scheme {
	case "memory":
		return NewMemoryBroker(), nil
	case "redis", "rediss":
		client, err := newRedisClient(rawURL)
		if err != nil {
			return nil, err
		}

		broker, err := NewRedisBroker(client,
			WithRedisKeyPrefix(transport.GlobalKeyPrefix),
			WithRedisVisibilityTimeout(transport.Visibility()),
			withRedisClientOwned())
		if err != nil {
			return nil, err
		}

		return broker, nil
	default:
		return nil, ewrap.Wrapf(ErrUnsupportedBroker, "%q", rawURL)
	}
}

func urlScheme(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ewrap.Wrap(err, "parse url")
	}

	return strings.ToLower(parsed.Scheme), nil
}

// MemoryBroker keeps queues in process memory. Messages do not survive the
// process and are only visible to workers sharing the broker value.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*messageHeap
	inflight map[string]*pendingMessage
	seq      uint64
	closed   bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   map[string]*messageHeap{},
		inflight: map[string]*pendingMessage{},
	}
}

// Publish appends msg to queue.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	queue = strings.TrimSpace(queue)
	if queue == "" {
		return ewrap.New("queue name is required")
	}

	// detach arguments from the sender
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	copied, err := DecodeMessage(data)
	if err != nil {
		return err
	}

	copied.Queue = queue

	readyAt := time.Now()
	if copied.ETA != nil && copied.ETA.After(readyAt) {
		readyAt = *copied.ETA
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	pending, ok := b.queues[queue]
	if !ok {
		pending = &messageHeap{}
		b.queues[queue] = pending
	}

	b.seq++

	heap.Push(pending, &pendingMessage{
		tag:     uuid.NewString(),
		readyAt: readyAt,
		seq:     b.seq,
		msg:     copied,
	})

	return nil
}

// Reserve returns the first due message from queues.
func (b *MemoryBroker) Reserve(ctx context.Context, queues []string) (*Delivery, error) {
	if ctx == nil {
		return nil, ErrInvalidContext
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	now := time.Now()

	for _, queue := range queues {
		pending, ok := b.queues[queue]
		if !ok {
			continue
		}

		next := pending.peek()
		if next == nil || next.readyAt.After(now) {
			continue
		}

		heap.Pop(pending)

		b.inflight[next.tag] = next

		return &Delivery{Message: next.msg, Queue: queue, Tag: next.tag}, nil
	}

	return nil, nil
}

// Ack forgets a reserved message.
func (b *MemoryBroker) Ack(ctx context.Context, delivery *Delivery) error {
	if ctx == nil {
		return ErrInvalidContext
	}

	if delivery == nil {
		return ewrap.New("delivery is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	delete(b.inflight, delivery.Tag)

	return nil
}

// Len returns the number of messages waiting in queue.
func (b *MemoryBroker) Len(ctx context.Context, queue string) (int64, error) {
	if ctx == nil {
		return 0, ErrInvalidContext
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBrokerClosed
	}

	pending, ok := b.queues[queue]
	if !ok {
		return 0, nil
	}

	return int64(pending.Len()), nil
}

// Unacked returns the number of reserved messages not yet acknowledged.
func (b *MemoryBroker) Unacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.inflight)
}

// Close drops every queued message.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.queues = map[string]*messageHeap{}
	b.inflight = map[string]*pendingMessage{}

	return nil
}
