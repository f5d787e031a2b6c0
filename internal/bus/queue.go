package bus

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("alert queue full")
	ErrQueueClosed = errors.New("alert queue closed")
)

// Queue is a bounded, non-blocking alert queue.
type Queue struct {
	ch     chan schema.AlertInfo
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.AlertInfo, capacity)}
}

// TryPublish enqueues an alert without blocking.
func (q *Queue) TryPublish(alert schema.AlertInfo) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- alert:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new alerts.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes alerts until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.AlertInfo)) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-q.ch:
			if !ok {
				return
			}
			handler(alert)
		}
	}
}

// Shards partitions alerts by symbol. A symbol always hashes to the
// same queue, so alerts for one symbol are consumed in arrival order
// while different symbols proceed in parallel.
type Shards struct {
	queues []*Queue
}

// NewShards allocates n queues of the given capacity.
func NewShards(n, capacity int) *Shards {
	if n <= 0 {
		n = 1
	}
	queues := make([]*Queue, n)
	for i := range queues {
		queues[i] = NewQueue(capacity)
	}
	return &Shards{queues: queues}
}

// Publish routes the alert to its symbol's queue without blocking.
func (s *Shards) Publish(alert schema.AlertInfo) error {
	h := fnv.New32a()
	h.Write([]byte(alert.Symbol))
	return s.queues[h.Sum32()%uint32(len(s.queues))].TryPublish(alert)
}

// Queues exposes the underlying shard queues so callers can run one
// consumer goroutine per shard.
func (s *Shards) Queues() []*Queue {
	return s.queues
}

// Close closes every shard queue.
func (s *Shards) Close() {
	for _, q := range s.queues {
		q.Close()
	}
}
