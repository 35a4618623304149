package resilience

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkheadLimitsConcurrency(t *testing.T) {
	const limit = 3
	const tasks = 10
	b := NewBulkhead(limit)

	var running, maxSeen, finished atomic.Int32
	ctx := context.Background()

	for range tasks {
		err := b.Go(ctx, func() {
			cur := running.Add(1)
			for {
				old := maxSeen.Load()
				if cur <= old || maxSeen.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			finished.Add(1)
		})
		if err != nil {
			t.Fatalf("Go: %v", err)
		}
	}
	b.Wait()

	if n := finished.Load(); n != tasks {
		t.Errorf("finished = %d, want %d", n, tasks)
	}
	if m := maxSeen.Load(); m > limit {
		t.Errorf("max concurrent = %d, want <= %d", m, limit)
	}
}

func TestBulkheadCancelledWhileWaiting(t *testing.T) {
	b := NewBulkhead(1)
	release := make(chan struct{})
	if err := b.Go(context.Background(), func() { <-release }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	if err := b.Go(ctx, func() { ran = true }); err == nil {
		t.Fatal("expected context error while the only slot is busy")
	}
	close(release)
	b.Wait()
	if ran {
		t.Error("task ran after its context expired")
	}
}

func TestNilBulkheadRunsInline(t *testing.T) {
	var b *Bulkhead
	ran := false
	if err := b.Go(context.Background(), func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	b.Wait()
	if !ran {
		t.Error("nil bulkhead did not run the task")
	}
}

func TestNewBulkheadMinimumOne(t *testing.T) {
	if b := NewBulkhead(0); b.limit != 1 {
		t.Errorf("limit = %d, want 1", b.limit)
	}
}
