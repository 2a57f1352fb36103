// Package queue is the durable work queue between the webhook gateways and
// the fulfillment worker. Delivery is at-least-once and unordered.
package queue

import "context"

// Delivery is one attempt at processing a work item. ID is stable across
// redeliveries of the same item; Attempt starts at 1.
type Delivery struct {
	ID      string
	Item    WorkItem
	Attempt int
}

// Handler processes a delivery. A nil error acknowledges the item; any error
// leaves it pending so it is delivered again after the visibility timeout.
type Handler func(ctx context.Context, d Delivery) error

// Enqueuer accepts new work items.
type Enqueuer interface {
	Enqueue(ctx context.Context, item WorkItem) error
}

// Queue is an Enqueuer that can also be consumed.
type Queue interface {
	Enqueuer
	// Consume delivers items of kind to h until ctx is cancelled.
	Consume(ctx context.Context, kind Kind, consumer string, h Handler) error
}
