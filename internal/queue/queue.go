// Package queue implements the durable FIFO handoff between the producer
// (API layer) and the consumer (worker) on top of Redis. The pending list
// is the single source of truth for work not yet picked up; the blocking
// destructive pop is the only mutual-exclusion mechanism between workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formyhq/editflow/internal/model"
)

const (
	pendingKey       = "editflow:queue:pending"
	payloadKeyPrefix = "editflow:queue:payload:"
)

var (
	// ErrEmpty is returned by Pop when no entry arrived within the timeout.
	// It is the idle tick of the worker loop, not a failure.
	ErrEmpty = errors.New("queue is empty")

	// ErrPayloadNotFound is returned when a popped task has no stored payload.
	ErrPayloadNotFound = errors.New("task payload not found")
)

// Queue is a Redis-backed FIFO of task ids with per-task payload blobs.
type Queue struct {
	client     *redis.Client
	payloadTTL time.Duration
}

// New creates a Queue on the given Redis client. payloadTTL bounds how
// long an unconsumed payload stays readable after push.
func New(client *redis.Client, payloadTTL time.Duration) *Queue {
	return &Queue{client: client, payloadTTL: payloadTTL}
}

// Push appends a task to the pending FIFO and stores its payload blob.
// The payload is written before the id becomes poppable so a consumer can
// never observe an id without data.
func (q *Queue) Push(ctx context.Context, taskID string, payload model.TaskPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, payloadKeyPrefix+taskID, data, q.payloadTTL)
	pipe.LPush(ctx, pendingKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push task %s: %w", taskID, err)
	}

	return nil
}

// Pop blocks up to timeout for the oldest pending task id and removes it
// atomically; no other consumer can receive the same entry. On timeout it
// returns ErrEmpty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, pendingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrEmpty
		}
		return "", fmt.Errorf("failed to pop task: %w", err)
	}

	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	return res[1], nil
}

// Payload returns the stored payload blob for a popped task.
func (q *Queue) Payload(ctx context.Context, taskID string) (model.TaskPayload, error) {
	data, err := q.client.Get(ctx, payloadKeyPrefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.TaskPayload{}, fmt.Errorf("%s: %w", taskID, ErrPayloadNotFound)
		}
		return model.TaskPayload{}, fmt.Errorf("failed to get payload for %s: %w", taskID, err)
	}

	var payload model.TaskPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.TaskPayload{}, fmt.Errorf("failed to unmarshal payload for %s: %w", taskID, err)
	}

	return payload, nil
}

// HealthCheck verifies the backing store is reachable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
