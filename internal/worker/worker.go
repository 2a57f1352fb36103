// Package worker runs the queue consumers that drive paid requests through
// the payment and fulfillment steps.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Processor performs the step each work item stands for.
type Processor interface {
	RequestPayment(ctx context.Context, id uuid.UUID, d queue.Delivery) error
	Fulfill(ctx context.Context, id uuid.UUID, paymentRef string, d queue.Delivery) error
}

// Config bounds each step. Zero values fall back to the defaults.
type Config struct {
	PaymentTimeout     time.Duration
	FulfillmentTimeout time.Duration
	Concurrency        int
}

const (
	defaultPaymentTimeout     = 2 * time.Minute
	defaultFulfillmentTimeout = 15 * time.Minute
)

// Worker binds work item kinds to Processor steps.
type Worker struct {
	proc Processor
	cfg  Config
}

// New creates a Worker. Zero timeouts and concurrency fall back to defaults.
func New(proc Processor, cfg Config) *Worker {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = defaultPaymentTimeout
	}
	if cfg.FulfillmentTimeout <= 0 {
		cfg.FulfillmentTimeout = defaultFulfillmentTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{proc: proc, cfg: cfg}
}

// Handle is a queue.Handler. Only retryable failures are returned, so the
// queue redelivers those and acknowledges everything else.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	log := slog.With("delivery_id", d.ID, "attempt", d.Attempt)

	var err error
	switch item := d.Item.(type) {
	case queue.GenerateImage:
		log = log.With("kind", item.Kind(), "request_id", item.RequestID)
		err = w.run(ctx, w.cfg.PaymentTimeout, func(ctx context.Context) error {
			return w.proc.RequestPayment(ctx, item.RequestID, d)
		})
	case queue.ReplyTweet:
		log = log.With("kind", item.Kind(), "request_id", item.RequestID)
		err = w.run(ctx, w.cfg.FulfillmentTimeout, func(ctx context.Context) error {
			return w.proc.Fulfill(ctx, item.RequestID, item.PaymentReference, d)
		})
	default:
		log.Warn("no handler for work item, dropping", "item", fmt.Sprintf("%T", d.Item))
		return nil
	}

	if err == nil {
		return nil
	}
	if coordinator.IsRetryable(err) {
		return err
	}
	log.Error("work item failed", "error", err)
	return nil
}

func (w *Worker) run(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// Run consumes every kind with Concurrency consumers each until ctx is
// cancelled or a consumer fails.
func (w *Worker) Run(ctx context.Context, q queue.Queue, consumer string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range queue.Kinds {
		kind := kind
		for i := 0; i < w.cfg.Concurrency; i++ {
			name := fmt.Sprintf("%s-%s-%d", consumer, kind, i)
			g.Go(func() error {
				if err := q.Consume(ctx, kind, name, w.Handle); err != nil {
					return fmt.Errorf("consumer %s: %w", name, err)
				}
				return nil
			})
		}
	}
	slog.Info("worker started", "consumer", consumer, "concurrency", w.cfg.Concurrency)
	return g.Wait()
}
