// Package queue provides concrete QueueTransport implementations for
// package stairway's cluster work queue (spec.md §4.6): an in-process
// MemoryTransport for single-instance embedding and tests, and a
// Redis-backed RedisTransport for multi-instance deployments.
package queue

import (
	"context"
	"sync"
)

// MemoryTransport is a slice-backed (mutex-guarded), single-process QueueTransport,
// the in-memory analogue of a broker for tests and embedded use where
// the engine runs as a single instance (spec.md §4.6, "no cluster
// deflection needed" case). It carries no durability across restarts.
type MemoryTransport struct {
	mu     sync.Mutex
	queued []string
	cond   *sync.Cond
	closed bool
}

// NewMemoryTransport constructs an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	t := &MemoryTransport{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Enqueue appends msg to the in-memory queue.
func (t *MemoryTransport) Enqueue(_ context.Context, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = append(t.queued, msg)
	t.cond.Signal()
	return nil
}

// Dispatch pops up to maxMessages messages and hands each to process
// in order, without blocking for more to arrive if the queue is empty.
func (t *MemoryTransport) Dispatch(ctx context.Context, maxMessages int, process func(ctx context.Context, msg string) (bool, error)) error {
	t.mu.Lock()
	n := maxMessages
	if n > len(t.queued) {
		n = len(t.queued)
	}
	batch := t.queued[:n]
	t.queued = t.queued[n:]
	t.mu.Unlock()

	for i, msg := range batch {
		ok, err := process(ctx, msg)
		if err != nil {
			// Abandoned: put it and the unprocessed rest of the batch
			// back at the head for the next Dispatch.
			t.mu.Lock()
			t.queued = append(append([]string{}, batch[i:]...), t.queued...)
			t.mu.Unlock()
			return err
		}
		if !ok {
			// Abandoned: put it back at the head for the next Dispatch.
			t.mu.Lock()
			t.queued = append([]string{msg}, t.queued...)
			t.mu.Unlock()
		}
	}
	return nil
}

// Purge discards every queued message without processing it.
func (t *MemoryTransport) Purge(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = nil
	return nil
}
