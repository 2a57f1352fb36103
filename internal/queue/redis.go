package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldKind    = "kind"
	fieldPayload = "payload"
	fieldError   = "error"
)

// Options configures a RedisQueue.
type Options struct {
	StreamPrefix      string
	Group             string
	VisibilityTimeout time.Duration
	BlockTimeout      time.Duration
	MaxDeliveries     int
	BatchSize         int64
}

// RedisQueue implements Queue on Redis Streams. Each kind has its own stream
// and consumer group; unacknowledged entries are reclaimed with XAUTOCLAIM once
// they have been idle longer than the visibility timeout.
type RedisQueue struct {
	client *redis.Client
	opts   Options
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a RedisQueue. Zero option values get defaults.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "twimagine"
	}
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 20 * time.Minute
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &RedisQueue{client: client, opts: opts}
}

// Stream returns the stream key for kind.
func (q *RedisQueue) Stream(kind Kind) string {
	return fmt.Sprintf("%s:%s", q.opts.StreamPrefix, kind)
}

// DeadLetterStream returns the stream that receives items of kind that
// exhausted their deliveries or could not be decoded.
func (q *RedisQueue) DeadLetterStream(kind Kind) string {
	return q.Stream(kind) + ":dead"
}

func (q *RedisQueue) Enqueue(ctx context.Context, item WorkItem) error {
	payload, err := Encode(item)
	if err != nil {
		return err
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream(item.Kind()),
		Values: map[string]any{
			fieldKind:    string(item.Kind()),
			fieldPayload: payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", item.Kind(), err)
	}
	return nil
}

// EnsureGroup creates the consumer group for kind if it does not exist.
func (q *RedisQueue) EnsureGroup(ctx context.Context, kind Kind) error {
	err := q.client.XGroupCreateMkStream(ctx, q.Stream(kind), q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group for %s: %w", kind, err)
	}
	return nil
}

// Consume reads items of kind as consumer and passes them to h until ctx is
// cancelled. Redis errors are logged and retried after a short pause.
func (q *RedisQueue) Consume(ctx context.Context, kind Kind, consumer string, h Handler) error {
	if err := q.EnsureGroup(ctx, kind); err != nil {
		return err
	}

	stream := q.Stream(kind)
	claimCursor := "0-0"

	for {
		if ctx.Err() != nil {
			return nil
		}

		claimed, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    q.opts.Group,
			Consumer: consumer,
			MinIdle:  q.opts.VisibilityTimeout,
			Start:    claimCursor,
			Count:    q.opts.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("queue reclaim failed", "stream", stream, "error", err)
			q.pause(ctx)
			continue
		}
		claimCursor = next
		for _, msg := range claimed {
			q.process(ctx, kind, msg, q.deliveryCount(ctx, stream, msg.ID), h)
		}
		if len(claimed) > 0 {
			continue
		}

		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    q.opts.BatchSize,
			Block:    q.opts.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("queue read failed", "stream", stream, "error", err)
			q.pause(ctx)
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				q.process(ctx, kind, msg, 1, h)
			}
		}
	}
}

// deliveryCount returns how many times the entry has been delivered,
// including the current delivery.
func (q *RedisQueue) deliveryCount(ctx context.Context, stream, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  q.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		if err != nil {
			slog.Warn("queue pending lookup failed", "stream", stream, "id", id, "error", err)
		}
		return 1
	}
	return int(pending[0].RetryCount)
}

func (q *RedisQueue) process(ctx context.Context, kind Kind, msg redis.XMessage, attempt int, h Handler) {
	log := slog.With("stream", q.Stream(kind), "delivery_id", msg.ID, "attempt", attempt)

	msgKind, _ := msg.Values[fieldKind].(string)
	payload, _ := msg.Values[fieldPayload].(string)

	item, err := Decode(Kind(msgKind), []byte(payload))
	if errors.Is(err, ErrUnknownKind) {
		log.Warn("dropping work item of unknown kind", "kind", msgKind)
		q.ack(ctx, kind, msg.ID)
		return
	}
	if err != nil {
		log.Error("undecodable work item", "error", err)
		q.deadLetter(ctx, kind, msg, err)
		return
	}

	if attempt > q.opts.MaxDeliveries {
		log.Error("work item exceeded max deliveries", "max_deliveries", q.opts.MaxDeliveries)
		q.deadLetter(ctx, kind, msg, fmt.Errorf("exceeded %d deliveries", q.opts.MaxDeliveries))
		return
	}

	if err := h(ctx, Delivery{ID: msg.ID, Item: item, Attempt: attempt}); err != nil {
		log.Warn("work item will be redelivered", "error", err)
		return
	}
	q.ack(ctx, kind, msg.ID)
}

func (q *RedisQueue) ack(ctx context.Context, kind Kind, id string) {
	stream := q.Stream(kind)
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, stream, q.opts.Group, id)
	pipe.XDel(ctx, stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("queue ack failed", "stream", stream, "delivery_id", id, "error", err)
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, kind Kind, msg redis.XMessage, cause error) {
	values := make(map[string]any, len(msg.Values)+1)
	for k, v := range msg.Values {
		values[k] = v
	}
	values[fieldError] = cause.Error()

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DeadLetterStream(kind),
		Values: values,
	}).Err(); err != nil {
		slog.Error("dead-letter write failed", "stream", q.DeadLetterStream(kind), "delivery_id", msg.ID, "error", err)
		return
	}
	q.ack(ctx, kind, msg.ID)
}

func (q *RedisQueue) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
}
