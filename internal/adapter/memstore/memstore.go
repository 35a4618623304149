// Package memstore implements the memory store port in process memory. It
// backs single-node development runs and the service and API tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dereadi/thermal-memory/internal/domain"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/database"
)

// Store is a mutex-guarded map of records keyed by id, with a memory_hash
// index. Records are deep-copied on the way in and out.
type Store struct {
	mu     sync.Mutex
	byID   map[string]*memory.Record
	byHash map[string]string

	// Err, when set, is returned by every call. Tests use it to simulate
	// pool exhaustion or an unreachable database.
	Err error
}

var _ database.MemoryStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*memory.Record),
		byHash: make(map[string]string),
	}
}

// UpsertMemory inserts rec or merges it into the record stored under the
// same memory_hash.
func (s *Store) UpsertMemory(_ context.Context, rec *memory.Record, merge database.MergeFunc) (*memory.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}

	if id, ok := s.byHash[rec.MemoryHash]; ok {
		existing := clone(s.byID[id])
		if err := merge(existing); err != nil {
			return nil, false, err
		}
		s.byID[id] = existing
		return clone(existing), false, nil
	}

	if _, ok := s.byID[rec.ID]; ok {
		return nil, false, fmt.Errorf("insert memory %s: duplicate id", rec.ID)
	}
	stored := clone(rec)
	s.byID[stored.ID] = stored
	s.byHash[stored.MemoryHash] = stored.ID
	return clone(stored), true, nil
}

// GetMemory returns a copy of the record with the given id.
func (s *Store) GetMemory(_ context.Context, id string) (*memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
	}
	return clone(r), nil
}

// UpdateMemory applies mutate to a copy and stores it only on success.
func (s *Store) UpdateMemory(_ context.Context, id string, mutate database.MutateFunc) (*memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, domain.ErrNotFound)
	}
	updated := clone(r)
	if err := mutate(updated); err != nil {
		return nil, err
	}
	s.byID[id] = updated
	return clone(updated), nil
}

// QueryMemories filters with the same visibility rule the SQL store applies.
func (s *Store) QueryMemories(_ context.Context, q memory.Query) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []memory.Record
	for _, r := range s.byID {
		if memory.VisibleTo(r, q.RequestingTriad) && q.Matches(r) {
			out = append(out, *clone(r))
		}
	}
	memory.SortByHeat(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListStaleIDs pages through ids in ascending order.
func (s *Store) ListStaleIDs(_ context.Context, before time.Time, afterID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []string
	for id, r := range s.byID {
		if id > afterID && r.ThermalAt.Before(before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Stats counts records per stage.
func (s *Store) Stats(_ context.Context) (*memory.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	st := &memory.Stats{ByStage: make(map[memory.Stage]int64, len(memory.ValidStages))}
	for _, stage := range memory.ValidStages {
		st.ByStage[stage] = 0
	}
	for _, r := range s.byID {
		st.Total++
		st.ByStage[r.Stage]++
		if r.SacredPattern {
			st.Sacred++
		}
	}
	return st, nil
}

// Ping reports the injected error, if any.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// SetErr sets the error returned by every call. nil restores normal
// operation.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

// Put stores rec as-is, bypassing the write path. Tests use it to seed
// records in states the service never produces directly, such as a stale
// thermal_at.
func (s *Store) Put(rec *memory.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = clone(rec)
	s.byHash[rec.MemoryHash] = rec.ID
}

func clone(r *memory.Record) *memory.Record {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	c.SacredTags = slices.Clone(r.SacredTags)
	c.AllowedTriads = slices.Clone(r.AllowedTriads)
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}
