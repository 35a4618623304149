package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/domain"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/cache"
	"github.com/dereadi/thermal-memory/internal/port/database"
)

// defaultCacheTTL is how long a record stays in the read-through cache when
// the caller did not configure one.
const defaultCacheTTL = 10 * time.Minute

// loadTimeout bounds a shared store read, which no longer follows the
// cancellation of the caller that started it.
const loadTimeout = 30 * time.Second

// ThermalService owns the thermal lifecycle of memory records: writes,
// touches, promotions, visibility-filtered reads and decay.
type ThermalService struct {
	store     database.MemoryStore
	policy    memory.ThermalPolicy
	metrics   *cfotel.Metrics
	cache     cache.Cache
	cacheTTL  time.Duration
	federator *Federator
	loads     singleflight.Group
	gens      generations

	now   func() time.Time
	newID func() string
}

// NewThermalService creates a ThermalService. metrics may be nil.
func NewThermalService(store database.MemoryStore, policy memory.ThermalPolicy, metrics *cfotel.Metrics) *ThermalService {
	return &ThermalService{
		store:    store,
		policy:   policy,
		metrics:  metrics,
		cacheTTL: defaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetCache enables the read-through record cache for GetMemory.
func (s *ThermalService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	if ttl > 0 {
		s.cacheTTL = ttl
	}
}

// SetFederator wires the federation broadcaster. Without one, writes that
// qualify for federation are only logged.
func (s *ThermalService) SetFederator(f *Federator) {
	s.federator = f
}

// Policy returns the decay curve in use.
func (s *ThermalService) Policy() memory.ThermalPolicy {
	return s.policy
}

// WriteMemory validates req and inserts it, or updates the record already
// stored under the same memory_hash. It returns the record id.
func (s *ThermalService) WriteMemory(ctx context.Context, req *memory.WriteRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	ctx, span := cfotel.StartMemorySpan(ctx, "write", "", req.SourceTriad)
	now := s.now()
	incoming := memory.NewRecord(req, s.newID(), now)

	stored, inserted, err := s.store.UpsertMemory(ctx, incoming, func(existing *memory.Record) error {
		memory.MergeWrite(existing, incoming, now)
		return nil
	})
	if err != nil {
		cfotel.EndSpan(span, err)
		return "", fmt.Errorf("write memory: %w", err)
	}
	span.SetAttributes(attribute.String("memory.id", stored.ID), attribute.Bool("memory.inserted", inserted))
	cfotel.EndSpan(span, nil)

	if !inserted {
		s.invalidate(ctx, stored.ID)
	}

	outcome := "inserted"
	if !inserted {
		outcome = "updated"
	}
	if s.metrics != nil {
		s.metrics.Writes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	slog.InfoContext(ctx, "memory written",
		"id", stored.ID,
		"outcome", outcome,
		"temperature", stored.Temperature,
		"stage", stored.Stage,
		"access_level", stored.AccessLevel,
	)

	if memory.ShouldFederate(stored) {
		s.federate(ctx, stored)
	}
	return stored.ID, nil
}

// Touch records an access: decay since the last thermal update, then the
// access boost, floor and restage.
func (s *ThermalService) Touch(ctx context.Context, id string) (*memory.Record, error) {
	ctx, span := cfotel.StartMemorySpan(ctx, "touch", id, "")
	rec, err := s.store.UpdateMemory(ctx, id, func(r *memory.Record) error {
		s.policy.ApplyTouch(r, s.now())
		return nil
	})
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("touch memory %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	s.checkIntegrity(ctx, rec)

	if s.metrics != nil {
		s.metrics.Touches.Add(ctx, 1)
		s.metrics.TouchTemperature.Record(ctx, rec.Temperature)
	}
	slog.DebugContext(ctx, "memory touched", "id", id, "temperature", rec.Temperature, "access_count", rec.AccessCount)
	return rec, nil
}

// PromoteToSacred marks a record sacred regardless of its coherence or
// access history and federates it.
func (s *ThermalService) PromoteToSacred(ctx context.Context, id string, rationale []string) (*memory.Record, error) {
	ctx, span := cfotel.StartMemorySpan(ctx, "promote", id, "")
	rec, err := s.store.UpdateMemory(ctx, id, func(r *memory.Record) error {
		memory.Promote(r, rationale, s.now())
		return nil
	})
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("promote memory %s: %w", id, err)
	}
	s.invalidate(ctx, id)

	if s.metrics != nil {
		s.metrics.Promotions.Add(ctx, 1)
	}
	slog.InfoContext(ctx, "memory promoted to sacred", "id", id, "temperature", rec.Temperature, "sacred_tags", rec.SacredTags)

	s.federate(ctx, rec)
	return rec, nil
}

// GetMemory returns a record without touching it. Records the requester may
// not see are reported as not found.
func (s *ThermalService) GetMemory(ctx context.Context, requestingTriad, id string) (*memory.Record, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !memory.VisibleTo(rec, requestingTriad) {
		return nil, fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

// load reads a record through the cache. Concurrent misses for one id
// share a single store read, unless a mutation invalidated the id in
// between: the generation is part of the flight key, so readers that
// start after an invalidation never join a load that predates it.
func (s *ThermalService) load(ctx context.Context, id string) (*memory.Record, error) {
	key := cache.RecordKey(id)
	if s.cache != nil {
		if rec, ok := s.cached(ctx, key); ok {
			return rec, nil
		}
	}

	gen := s.gens.current(id)
	flight := id + "@" + strconv.FormatUint(gen, 10)
	ch := s.loads.DoChan(flight, func() (any, error) {
		// The load outlives any single caller; it is bounded by loadTimeout.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		rec, err := s.store.GetMemory(lctx, id)
		if err != nil {
			return nil, err
		}
		s.checkIntegrity(lctx, rec)
		s.fill(lctx, id, gen, rec)
		return rec, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("get memory %s: %w", id, ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, res.Err)
	}
	// Shared result; hand each caller its own copy.
	rec := *res.Val.(*memory.Record)
	return &rec, nil
}

// fill caches rec as read at generation gen. The generation is checked
// again after the write: invalidate bumps it before deleting, so a fill
// that raced a mutation either sees the bump and removes its own entry or
// is overwritten by the mutation's delete.
func (s *ThermalService) fill(ctx context.Context, id string, gen uint64, rec *memory.Record) {
	if s.cache == nil || s.gens.current(id) != gen {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := cache.RecordKey(id)
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		slog.WarnContext(ctx, "cache set failed", "id", id, "error", err)
		return
	}
	if s.gens.current(id) != gen {
		if err := s.cache.Delete(ctx, key); err != nil {
			slog.WarnContext(ctx, "cache invalidation failed", "id", id, "error", err)
		}
	}
}

func (s *ThermalService) cached(ctx context.Context, key string) (*memory.Record, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "cache get failed", "key", key, "error", err)
	}
	result := "miss"
	defer func() {
		if s.metrics != nil {
			s.metrics.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
		}
	}()
	if !ok {
		return nil, false
	}
	var rec memory.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.WarnContext(ctx, "cached record unreadable", "key", key, "error", err)
		return nil, false
	}
	result = "hit"
	return &rec, true
}

// QueryMemories returns the records visible to q.RequestingTriad that match
// q, hottest first.
func (s *ThermalService) QueryMemories(ctx context.Context, q memory.Query) ([]memory.Record, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartMemorySpan(ctx, "query", "", q.RequestingTriad)
	recs, err := s.store.QueryMemories(ctx, q)
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}

	out := recs[:0]
	for i := range recs {
		if !memory.VisibleTo(&recs[i], q.RequestingTriad) {
			slog.ErrorContext(ctx, "store returned a record the requester may not see",
				"id", recs[i].ID, "requesting_triad", q.RequestingTriad)
			continue
		}
		s.checkIntegrity(ctx, &recs[i])
		out = append(out, recs[i])
	}
	if out == nil {
		out = []memory.Record{}
	}
	return out, nil
}

// GetSacredMemories returns the visible records at or above the sacred
// floor.
func (s *ThermalService) GetSacredMemories(ctx context.Context, requestingTriad string) ([]memory.Record, error) {
	return s.QueryMemories(ctx, memory.Query{
		RequestingTriad: requestingTriad,
		MinTemp:         memory.SacredFloor,
	})
}

// Stats returns record counts per stage.
func (s *ThermalService) Stats(ctx context.Context) (*memory.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	return st, nil
}

// Ping checks the store.
func (s *ThermalService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Decay cools one record by the time elapsed since its last thermal
// update. It reports whether the record changed.
func (s *ThermalService) Decay(ctx context.Context, id string) (bool, error) {
	var changed bool
	_, err := s.store.UpdateMemory(ctx, id, func(r *memory.Record) error {
		changed = s.policy.ApplyDecay(r, s.now())
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("decay memory %s: %w", id, err)
	}
	if changed {
		s.invalidate(ctx, id)
	}
	return changed, nil
}

// HandlePeerEvent drops the cached copy of a record a peer triad announced.
func (s *ThermalService) HandlePeerEvent(ctx context.Context, ev memory.FederationEvent) {
	s.invalidate(ctx, ev.ID)
}

func (s *ThermalService) federate(ctx context.Context, rec *memory.Record) {
	ev := memory.NewFederationEvent(rec, s.now())
	if s.federator == nil {
		slog.DebugContext(ctx, "federation disabled, event not sent", "id", rec.ID)
		return
	}
	s.federator.Publish(ctx, ev)
}

func (s *ThermalService) invalidate(ctx context.Context, id string) {
	s.gens.bump(id)
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.RecordKey(id)); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", "id", id, "error", err)
	}
}

// checkIntegrity flags and logs a record whose payload no longer matches
// its checksum. The record is still returned to the caller.
func (s *ThermalService) checkIntegrity(ctx context.Context, rec *memory.Record) {
	if rec.VerifyChecksum() {
		return
	}
	slog.WarnContext(ctx, "memory integrity warning",
		"id", rec.ID,
		"error", fmt.Errorf("memory %s: %w", rec.ID, domain.ErrChecksumMismatch),
	)
}
