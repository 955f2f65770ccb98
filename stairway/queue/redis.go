package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popTimeout bounds each individual BLPOP call inside Dispatch so a
// quiet queue does not hold the listener goroutine hostage past the
// caller's own context deadline.
const popTimeout = 2 * time.Second

// RedisTransport is a Redis list-backed QueueTransport (spec.md §4.6),
// grounded on the teacher corpus's Redis job queue
// (queue/redis/queue.go): RPUSH to enqueue, BLPOP to dequeue with a
// bounded wait, same as that queue's Enqueue/Dequeue pair, generalized
// here from job payloads to opaque envelope strings.
type RedisTransport struct {
	client *redis.Client
	key    string
}

// NewRedisTransport wraps an existing *redis.Client. key is the list
// key the queue lives under (e.g. "stairway:ready").
func NewRedisTransport(client *redis.Client, key string) *RedisTransport {
	return &RedisTransport{client: client, key: key}
}

// Enqueue RPUSHes msg onto the list.
func (t *RedisTransport) Enqueue(ctx context.Context, msg string) error {
	if err := t.client.RPush(ctx, t.key, msg).Err(); err != nil {
		return fmt.Errorf("stairway/queue: redis RPUSH: %w", err)
	}
	return nil
}

// Dispatch BLPOPs up to maxMessages messages, each bounded by
// popTimeout, and hands each to process. A false return or error from
// process re-queues the message at the head of the list for
// redelivery. Dispatch returns early, without error, once BLPOP times
// out with nothing available.
func (t *RedisTransport) Dispatch(ctx context.Context, maxMessages int, process func(ctx context.Context, msg string) (bool, error)) error {
	for i := 0; i < maxMessages; i++ {
		result, err := t.client.BLPop(ctx, popTimeout, t.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stairway/queue: redis BLPOP: %w", err)
		}
		if len(result) < 2 {
			continue
		}
		msg := result[1]

		ok, perr := process(ctx, msg)
		if perr != nil {
			if rerr := t.client.LPush(ctx, t.key, msg).Err(); rerr != nil {
				return fmt.Errorf("stairway/queue: redis re-enqueue after failed message: %w", rerr)
			}
			return perr
		}
		if !ok {
			if rerr := t.client.LPush(ctx, t.key, msg).Err(); rerr != nil {
				return fmt.Errorf("stairway/queue: redis re-enqueue after abandoned message: %w", rerr)
			}
		}
	}
	return nil
}

// Purge deletes the queue's list key entirely.
func (t *RedisTransport) Purge(ctx context.Context) error {
	if err := t.client.Del(ctx, t.key).Err(); err != nil {
		return fmt.Errorf("stairway/queue: redis DEL: %w", err)
	}
	return nil
}
