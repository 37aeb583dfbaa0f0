package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "caseflow:reconcile:subprocess_runs"

// Queue is the redis-backed change feed between task status writes and
// the reconciler worker. Delivery is at-least-once; the reconciliation
// predicate is idempotent, so duplicates are harmless.
type Queue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewQueue creates a reconciliation queue over a redis client.
func NewQueue(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		key:    defaultQueueKey,
		logger: logger.With("module", "reconciler_queue"),
	}
}

// Enqueue schedules a sub-process run for reconciliation. Queue failures
// are reported so the caller can fall back to inline reconciliation.
func (q *Queue) Enqueue(ctx context.Context, subProcessRunID string) error {
	if err := q.client.LPush(ctx, q.key, subProcessRunID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue sub-process run %s: %w", subProcessRunID, err)
	}

	return nil
}

// Consume blocks on the queue and hands each run ID to the handler until
// the context is cancelled. Handler failures are logged and the entry is
// dropped; the periodic sweep picks up anything missed.
func (q *Queue) Consume(ctx context.Context, handler func(ctx context.Context, subProcessRunID string) error) error {
	q.logger.InfoContext(ctx, "reconciliation queue consumer started", "key", q.key)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			q.logger.ErrorContext(ctx, "queue pop failed", "error", err)
			time.Sleep(time.Second)

			continue
		}

		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}

		runID := result[1]

		if err := handler(ctx, runID); err != nil {
			q.logger.ErrorContext(ctx, "reconciliation failed",
				"sub_process_run_id", runID, "error", err)
		}
	}
}

// HealthCheck pings redis.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}

// Close releases the redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
