package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bulkhead bounds how many tasks run at once so a background job cannot
// take every pooled connection from request traffic.
type Bulkhead struct {
	sem   *semaphore.Weighted
	limit int64
}

// NewBulkhead creates a Bulkhead admitting at most limit concurrent tasks.
func NewBulkhead(limit int) *Bulkhead {
	limit = max(limit, 1)
	return &Bulkhead{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// Go waits for a free slot and runs fn in a new goroutine. It returns
// ctx.Err() without running fn if ctx ends while waiting. A nil Bulkhead
// runs fn synchronously.
func (b *Bulkhead) Go(ctx context.Context, fn func()) error {
	if b == nil {
		fn()
		return nil
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer b.sem.Release(1)
		fn()
	}()
	return nil
}

// Wait blocks until every task started with Go has returned.
func (b *Bulkhead) Wait() {
	if b == nil {
		return
	}
	_ = b.sem.Acquire(context.Background(), b.limit)
	b.sem.Release(b.limit)
}
