// Package queuetest provides an in-memory queue.Queue for tests.
package queuetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/kiranshivaraju/twimagine/internal/queue"
)

// MemoryQueue keeps items in FIFO order per kind. A handler error puts the
// item back at the end of its kind with the attempt incremented; items past
// MaxDeliveries are moved to Dead.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[queue.Kind][]queue.Delivery
	seq     int
	changed chan struct{}

	// EnqueueErr, when set, is returned by Enqueue instead of storing the item.
	EnqueueErr error
	// MaxDeliveries defaults to 5.
	MaxDeliveries int

	Dead []queue.Delivery
}

var _ queue.Queue = (*MemoryQueue)(nil)

// New creates an empty MemoryQueue.
func New() *MemoryQueue {
	return &MemoryQueue{
		pending:       make(map[queue.Kind][]queue.Delivery),
		changed:       make(chan struct{}),
		MaxDeliveries: 5,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, item queue.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.seq++
	q.pending[item.Kind()] = append(q.pending[item.Kind()], queue.Delivery{
		ID:      strconv.Itoa(q.seq),
		Item:    item,
		Attempt: 1,
	})
	q.signal()
	return nil
}

// signal wakes every waiting consumer. Callers hold q.mu.
func (q *MemoryQueue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Pending returns a snapshot of the queued items of kind.
func (q *MemoryQueue) Pending(kind queue.Kind) []queue.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]queue.WorkItem, 0, len(q.pending[kind]))
	for _, d := range q.pending[kind] {
		items = append(items, d.Item)
	}
	return items
}

// Len returns the number of queued items across all kinds.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, ds := range q.pending {
		n += len(ds)
	}
	return n
}

// Take removes and returns the oldest delivery of kind.
func (q *MemoryQueue) Take(kind queue.Kind) (queue.Delivery, bool) {
	d, ok, _ := q.takeOrWait(kind)
	return d, ok
}

// takeOrWait pops the oldest delivery of kind, or returns a channel that is
// closed when the queue next changes.
func (q *MemoryQueue) takeOrWait(kind queue.Kind) (queue.Delivery, bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ds := q.pending[kind]
	if len(ds) == 0 {
		return queue.Delivery{}, false, q.changed
	}
	q.pending[kind] = ds[1:]
	return ds[0], true, nil
}

// Redeliver puts d back at the end of its kind with the attempt incremented.
func (q *MemoryQueue) Redeliver(d queue.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d.Attempt++
	if d.Attempt > q.MaxDeliveries {
		q.Dead = append(q.Dead, d)
		return
	}
	kind := d.Item.Kind()
	q.pending[kind] = append(q.pending[kind], d)
	q.signal()
}

// Consume delivers items of kind to h until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, kind queue.Kind, consumer string, h queue.Handler) error {
	for {
		d, ok, wait := q.takeOrWait(kind)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-wait:
				continue
			}
		}
		if err := h(ctx, d); err != nil {
			q.Redeliver(d)
		}
	}
}

// Drain runs h over queued items of kind until none remain, including
// redeliveries. It returns the number of handler calls.
func (q *MemoryQueue) Drain(ctx context.Context, kind queue.Kind, h queue.Handler) int {
	calls := 0
	for {
		d, ok := q.Take(kind)
		if !ok {
			return calls
		}
		calls++
		if err := h(ctx, d); err != nil {
			q.Redeliver(d)
		}
	}
}
