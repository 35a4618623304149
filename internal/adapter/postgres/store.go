package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/domain/memory"
	"github.com/dereadi/thermal-memory/internal/port/database"
)

// Store implements database.MemoryStore using PostgreSQL.
type Store struct {
	db *ConnManager
}

var _ database.MemoryStore = (*Store)(nil)

// NewStore creates a new Store on top of the connection manager.
func NewStore(db *ConnManager) *Store {
	return &Store{db: db}
}

const recordColumns = `id, memory_hash, original_content, compressed_content, content_checksum,
	temperature_score, current_stage, access_count, access_rate, sacred_pattern, sacred_tags,
	phase_coherence, domain_tag, tags, metadata, source_triad, access_level, allowed_triads,
	created_at, last_access, thermal_at, updated_at`

// nilUUID sorts before every generated id; used as the first keyset cursor.
const nilUUID = "00000000-0000-0000-0000-000000000000"

func scanRecord(row scannable) (*memory.Record, error) {
	var (
		r                  memory.Record
		stage, accessLevel string
		metadata           []byte
		sacredTags, tags   []string
		allowedTriads      []string
	)
	err := row.Scan(
		&r.ID, &r.MemoryHash, &r.OriginalContent, &r.CompressedContent, &r.ContentChecksum,
		&r.Temperature, &stage, &r.AccessCount, &r.AccessRate, &r.SacredPattern, &sacredTags,
		&r.PhaseCoherence, &r.DomainTag, &tags, &metadata, &r.SourceTriad, &accessLevel, &allowedTriads,
		&r.CreatedAt, &r.LastAccess, &r.ThermalAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Stage = memory.Stage(stage)
	r.AccessLevel = memory.AccessLevel(accessLevel)
	r.SacredTags = nilIfEmpty(sacredTags)
	r.Tags = nilIfEmpty(tags)
	r.AllowedTriads = nilIfEmpty(allowedTriads)
	if r.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertMemory inserts rec or merges it into the record stored under the
// same memory_hash. Two writers racing on a new hash both attempt the
// insert; the loser's ON CONFLICT DO NOTHING waits for the winner to commit
// and then falls through to the locked update path.
func (s *Store) UpsertMemory(ctx context.Context, rec *memory.Record, merge database.MergeFunc) (_ *memory.Record, inserted bool, err error) {
	ctx, span := cfotel.StartStoreSpan(ctx, "upsert")
	defer func() { cfotel.EndSpan(span, err) }()

	var stored *memory.Record
	err = s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		stored, inserted = nil, false

		existing, err := selectForUpdate(ctx, tx, "memory_hash", rec.MemoryHash)
		if errors.Is(err, pgx.ErrNoRows) {
			ok, insertErr := insertRecord(ctx, tx, rec)
			if insertErr != nil {
				return insertErr
			}
			if ok {
				stored, inserted = rec, true
				return nil
			}
			existing, err = selectForUpdate(ctx, tx, "memory_hash", rec.MemoryHash)
		}
		if err != nil {
			return notFoundWrap(err, "lock memory by hash")
		}

		if err := merge(existing); err != nil {
			return err
		}
		if err := updateRecord(ctx, tx, existing); err != nil {
			return err
		}
		stored = existing
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert memory: %w", err)
	}
	return stored, inserted, nil
}

// GetMemory returns a record by id.
func (s *Store) GetMemory(ctx context.Context, id string) (_ *memory.Record, err error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartStoreSpan(ctx, "get")
	defer func() { cfotel.EndSpan(span, err) }()

	var rec *memory.Record
	err = s.db.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		r, err := scanRecord(conn.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM thermal_memories WHERE id = $1`, id))
		if err != nil {
			return notFoundWrap(err, "get memory %s", id)
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateMemory locks a record, applies mutate and writes it back.
func (s *Store) UpdateMemory(ctx context.Context, id string, mutate database.MutateFunc) (_ *memory.Record, err error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	ctx, span := cfotel.StartStoreSpan(ctx, "update")
	defer func() { cfotel.EndSpan(span, err) }()

	var rec *memory.Record
	err = s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		r, err := selectForUpdate(ctx, tx, "id", id)
		if err != nil {
			return notFoundWrap(err, "lock memory %s", id)
		}
		if err := mutate(r); err != nil {
			return err
		}
		if err := updateRecord(ctx, tx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	return rec, nil
}

// QueryMemories evaluates the visibility predicate in SQL:
// PUBLIC and SACRED are visible to everyone, a triad sees its own records,
// and SPECIFIC records are visible to their allow-list.
func (s *Store) QueryMemories(ctx context.Context, q memory.Query) (_ []memory.Record, err error) {
	ctx, span := cfotel.StartStoreSpan(ctx, "query")
	defer func() { cfotel.EndSpan(span, err) }()

	const sql = `SELECT ` + recordColumns + `
		FROM thermal_memories
		WHERE temperature_score >= $1 AND temperature_score <= $2
		  AND (access_level IN ('PUBLIC', 'SACRED')
		       OR source_triad = $3
		       OR (access_level = 'SPECIFIC' AND $3 = ANY(allowed_triads)))
		  AND ($4 = '' OR source_triad = $4)
		  AND (cardinality($5::text[]) = 0 OR tags && $5::text[])
		ORDER BY temperature_score DESC, last_access DESC
		LIMIT $6`

	var result []memory.Record
	err = s.db.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql,
			q.MinTemp, q.Upper(), q.RequestingTriad, q.SourceTriad, pgTextArray(q.Tags), q.Limit)
		if err != nil {
			return fmt.Errorf("query memories: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return fmt.Errorf("scan memory: %w", err)
			}
			result = append(result, *r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListStaleIDs pages through ids whose thermal_at is older than before.
func (s *Store) ListStaleIDs(ctx context.Context, before time.Time, afterID string, limit int) (_ []string, err error) {
	ctx, span := cfotel.StartStoreSpan(ctx, "list_stale")
	defer func() { cfotel.EndSpan(span, err) }()

	if afterID == "" {
		afterID = nilUUID
	}
	var ids []string
	err = s.db.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id FROM thermal_memories WHERE thermal_at < $1 AND id > $2::uuid ORDER BY id LIMIT $3`,
			before, afterID, limit)
		if err != nil {
			return fmt.Errorf("list stale memories: %w", err)
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Stats counts records per stage. Sacred counts records with sacred_pattern.
func (s *Store) Stats(ctx context.Context) (_ *memory.Stats, err error) {
	ctx, span := cfotel.StartStoreSpan(ctx, "stats")
	defer func() { cfotel.EndSpan(span, err) }()

	st := &memory.Stats{ByStage: make(map[memory.Stage]int64, len(memory.ValidStages))}
	for _, stage := range memory.ValidStages {
		st.ByStage[stage] = 0
	}
	err = s.db.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT current_stage, count(*), count(*) FILTER (WHERE sacred_pattern)
			 FROM thermal_memories GROUP BY current_stage`)
		if err != nil {
			return fmt.Errorf("memory stats: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				stage         string
				count, sacred int64
			)
			if err := rows.Scan(&stage, &count, &sacred); err != nil {
				return fmt.Errorf("scan stats: %w", err)
			}
			st.ByStage[memory.Stage(stage)] = count
			st.Total += count
			st.Sacred += sacred
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Ping checks database connectivity through the connection manager.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func selectForUpdate(ctx context.Context, tx pgx.Tx, column, value string) (*memory.Record, error) {
	// column is one of two constants chosen by this package, never caller input.
	return scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM thermal_memories WHERE `+column+` = $1 FOR UPDATE`, value))
}

func insertRecord(ctx context.Context, tx pgx.Tx, r *memory.Record) (bool, error) {
	metadata, err := marshalMetadata(r.Metadata)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO thermal_memories (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (memory_hash) DO NOTHING`,
		r.ID, r.MemoryHash, r.OriginalContent, r.CompressedContent, r.ContentChecksum,
		r.Temperature, string(r.Stage), r.AccessCount, r.AccessRate, r.SacredPattern, pgTextArray(r.SacredTags),
		r.PhaseCoherence, r.DomainTag, pgTextArray(r.Tags), metadata, r.SourceTriad, string(r.AccessLevel), pgTextArray(r.AllowedTriads),
		r.CreatedAt, r.LastAccess, r.ThermalAt, r.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert memory: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// updateRecord writes every mutable column. id, memory_hash, source_triad
// and created_at are never updated.
func updateRecord(ctx context.Context, tx pgx.Tx, r *memory.Record) error {
	metadata, err := marshalMetadata(r.Metadata)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE thermal_memories SET
			original_content = $2, compressed_content = $3, content_checksum = $4,
			temperature_score = $5, current_stage = $6, access_count = $7, access_rate = $8,
			sacred_pattern = $9, sacred_tags = $10, phase_coherence = $11, domain_tag = $12,
			tags = $13, metadata = $14, access_level = $15, allowed_triads = $16,
			last_access = $17, thermal_at = $18, updated_at = $19
		WHERE id = $1`,
		r.ID, r.OriginalContent, r.CompressedContent, r.ContentChecksum,
		r.Temperature, string(r.Stage), r.AccessCount, r.AccessRate,
		r.SacredPattern, pgTextArray(r.SacredTags), r.PhaseCoherence, r.DomainTag,
		pgTextArray(r.Tags), metadata, string(r.AccessLevel), pgTextArray(r.AllowedTriads),
		r.LastAccess, r.ThermalAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", r.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return notFoundWrap(pgx.ErrNoRows, "update memory %s", r.ID)
	}
	return nil
}
