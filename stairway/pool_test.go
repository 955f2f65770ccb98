package stairway

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWorkerPool_SubmitRunsTask(t *testing.T) {
	p := newWorkerPool(2)
	done := make(chan struct{})
	ok := p.submit(context.Background(), "f1", func(ctx context.Context) { close(done) })
	if !ok {
		t.Fatalf("expected submit to succeed")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task did not run in time")
	}
	p.closeGraceful(time.Second)
}

func TestWorkerPool_BacklogAndActive(t *testing.T) {
	p := newWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	p.submit(context.Background(), "first", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	// The single worker is busy; a second submission should sit in the backlog.
	p.submit(context.Background(), "second", func(ctx context.Context) {})

	if active := p.active(); active != 1 {
		t.Fatalf("expected 1 active task, got %d", active)
	}
	if backlog := p.backlog(); backlog != 1 {
		t.Fatalf("expected 1 backlogged task, got %d", backlog)
	}

	close(release)
	p.closeGraceful(time.Second)
}

func TestWorkerPool_SubmitAfterCloseIsRejected(t *testing.T) {
	p := newWorkerPool(1)
	p.closeGraceful(time.Second)
	if p.submit(context.Background(), "late", func(ctx context.Context) {}) {
		t.Fatalf("expected submit after close to be rejected")
	}
}

func TestWorkerPool_CloseForcedCancelsInflightAndReturnsQueued(t *testing.T) {
	p := newWorkerPool(1)
	started := make(chan struct{})
	var canceled bool
	var mu sync.Mutex

	p.submit(context.Background(), "running", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		mu.Lock()
		canceled = true
		mu.Unlock()
	})
	<-started
	p.submit(context.Background(), "queued-1", func(ctx context.Context) {})
	p.submit(context.Background(), "queued-2", func(ctx context.Context) {})

	ids := p.closeForced()
	if len(ids) != 2 {
		t.Fatalf("expected 2 never-started flight ids, got %v", ids)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		c := canceled
		mu.Unlock()
		if c {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected inflight task's context to be cancelled")
		default:
		}
	}
}

func TestWorkerPool_CloseGracefulTimesOutOnSlowTask(t *testing.T) {
	p := newWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})
	p.submit(context.Background(), "slow", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	start := time.Now()
	p.closeGraceful(20 * time.Millisecond)
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected closeGraceful to return promptly on timeout")
	}
	close(release)
}
