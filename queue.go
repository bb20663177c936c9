package tradesocket

import (
	"sync"

	"github.com/eapache/queue"
)

// DefaultQueueSize is the outbound queue capacity.
const DefaultQueueSize = 50

// OutboundQueue is a bounded FIFO of messages that cannot be sent yet. When
// full, pushing evicts the oldest entry.
type OutboundQueue struct {
	mu       sync.Mutex
	buf      *queue.Queue
	capacity int
}

// NewOutboundQueue creates a queue holding at most capacity messages.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &OutboundQueue{buf: queue.New(), capacity: capacity}
}

// Push appends p and returns the evicted entry, if any.
func (q *OutboundQueue) Push(p *PendingOutbound) (evicted *PendingOutbound) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf.Length() >= q.capacity {
		evicted = q.buf.Remove().(*PendingOutbound)
	}
	q.buf.Add(p)
	return evicted
}

// Drain removes and returns every entry in enqueue order.
func (q *OutboundQueue) Drain() []*PendingOutbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*PendingOutbound, 0, q.buf.Length())
	for q.buf.Length() > 0 {
		out = append(out, q.buf.Remove().(*PendingOutbound))
	}
	return out
}

// Snapshot returns the entries in enqueue order without removing them.
func (q *OutboundQueue) Snapshot() []*PendingOutbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*PendingOutbound, q.buf.Length())
	for i := range out {
		out[i] = q.buf.Get(i).(*PendingOutbound)
	}
	return out
}

// Clear drops every entry and returns how many were dropped.
func (q *OutboundQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.buf.Length()
	q.buf = queue.New()
	return n
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Length()
}

func (q *OutboundQueue) Cap() int { return q.capacity }
