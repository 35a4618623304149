// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/dereadi/thermal-memory/internal/domain/memory"
)

// MergeFunc applies an incoming write onto the record already stored under
// the same memory_hash. It runs inside the store's transaction.
type MergeFunc func(existing *memory.Record) error

// MutateFunc changes a locked record in place. Returning an error aborts
// the transaction and leaves the stored record untouched.
type MutateFunc func(rec *memory.Record) error

// MemoryStore is the port interface for thermal memory persistence.
// Every method is a single bounded transaction; no method retries.
type MemoryStore interface {
	// UpsertMemory inserts rec or, when rec.MemoryHash is already stored,
	// locks the existing record and applies merge to it. It returns the
	// stored record and whether it was newly inserted.
	UpsertMemory(ctx context.Context, rec *memory.Record, merge MergeFunc) (*memory.Record, bool, error)

	// GetMemory returns the record with the given id or domain.ErrNotFound.
	GetMemory(ctx context.Context, id string) (*memory.Record, error)

	// UpdateMemory locks the record, applies mutate and persists the result.
	UpdateMemory(ctx context.Context, id string, mutate MutateFunc) (*memory.Record, error)

	// QueryMemories returns records visible to q.RequestingTriad that match
	// q, ordered by temperature then recency. q must be normalized.
	QueryMemories(ctx context.Context, q memory.Query) ([]memory.Record, error)

	// ListStaleIDs returns up to limit ids, ordered by id and greater than
	// afterID, whose temperature was last recomputed before the cutoff.
	ListStaleIDs(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error)

	// Stats counts records per stage.
	Stats(ctx context.Context) (*memory.Stats, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
