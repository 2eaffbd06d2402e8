package taskapp

import "time"

// pendingMessage is a published message waiting in a memory queue.
type pendingMessage struct {
	tag     string
	readyAt time.Time
	seq     uint64
	msg     Message
}

// messageHeap implements heap.Interface and holds messages ordered by the
// time they become due, then by publish order.
// It is not safe for concurrent use; callers should synchronize access.
type messageHeap []*pendingMessage

// Len returns the number of messages in the heap.
func (h messageHeap) Len() int { return len(h) }

// Less reports whether the message with index i is due before the one with index j.
func (h messageHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}

	return h[i].seq < h[j].seq
}

// Swap swaps the messages with indexes i and j.
func (h messageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push adds x as last element.
func (h *messageHeap) Push(x any) {
	pending, ok := x.(*pendingMessage)
	if !ok {
		return
	}

	*h = append(*h, pending)
}

// Pop removes and returns the last element.
func (h *messageHeap) Pop() any {
	old := *h

	n := len(old)
	if n == 0 {
		return nil
	}

	pending := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return pending
}

// peek returns the message due first without removing it.
func (h messageHeap) peek() *pendingMessage {
	if len(h) == 0 {
		return nil
	}

	return h[0]
}
