package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/port/database"
	"github.com/dereadi/thermal-memory/internal/resilience"
)

// Sweeper periodically cools records nobody touched. It never deletes a
// record and never counts an access.
type Sweeper struct {
	store    database.MemoryStore
	thermal  *ThermalService
	metrics  *cfotel.Metrics
	interval time.Duration
	batch    int
	bulkhead *resilience.Bulkhead

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSweeper creates a Sweeper that runs every interval, listing at most
// batch records per store round trip and decaying up to concurrency of them
// in parallel.
func NewSweeper(store database.MemoryStore, thermal *ThermalService, interval time.Duration, batch, concurrency int, metrics *cfotel.Metrics) *Sweeper {
	return &Sweeper{
		store:    store,
		thermal:  thermal,
		metrics:  metrics,
		interval: interval,
		batch:    max(batch, 1),
		bulkhead: resilience.NewBulkhead(concurrency),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until Stop or
// ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "decay sweep failed", "error", err)
	}
}

// SweepOnce cools every record whose temperature was last recomputed more
// than one interval ago. It returns the number of records changed. A
// failure on one record is logged and the sweep continues.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.thermal.now().Add(-s.interval)
	start := time.Now()
	var changed, failed atomic.Int64
	after := ""

	for {
		ids, err := s.store.ListStaleIDs(ctx, cutoff, after, s.batch)
		if err != nil {
			return int(changed.Load()), err
		}
		for _, id := range ids {
			err := s.bulkhead.Go(ctx, func() {
				ok, err := s.thermal.Decay(ctx, id)
				switch {
				case err != nil:
					failed.Add(1)
					slog.WarnContext(ctx, "decay failed", "id", id, "error", err)
				case ok:
					changed.Add(1)
				}
			})
			if err != nil {
				s.bulkhead.Wait()
				return int(changed.Load()), err
			}
		}
		// The keyset cursor only advances once the whole batch is done.
		s.bulkhead.Wait()
		if ctx.Err() != nil {
			return int(changed.Load()), ctx.Err()
		}
		if len(ids) < s.batch {
			break
		}
		after = ids[len(ids)-1]
	}

	n := changed.Load()
	if s.metrics != nil && n > 0 {
		s.metrics.SweepDecayed.Add(ctx, n)
	}
	slog.InfoContext(ctx, "decay sweep complete", "changed", n, "failed", failed.Load(), "duration", time.Since(start))
	return int(n), nil
}
