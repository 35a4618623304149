package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/domain"
)

// PoolStats is a snapshot of the connection pool for health reporting.
type PoolStats struct {
	Acquired int32 `json:"acquired"`
	Idle     int32 `json:"idle"`
	Total    int32 `json:"total"`
	Max      int32 `json:"max"`
}

// ConnManager hands out pooled connections with bounded waits. Every
// acquired connection is released on every path, broken connections are
// discarded instead of being returned, and nothing is retried.
type ConnManager struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	queryTimeout   time.Duration
}

// NewConnManager wraps pool with the acquire and query deadlines from cfg.
func NewConnManager(pool *pgxpool.Pool, cfg config.Postgres) *ConnManager {
	return &ConnManager{
		pool:           pool,
		acquireTimeout: cfg.AcquireTimeout,
		queryTimeout:   cfg.QueryTimeout,
	}
}

// Acquire waits at most the acquire timeout for a connection. A timeout
// while every connection is checked out is ErrPoolExhausted; any other
// failure to obtain a connection is ErrStoreUnavailable.
func (m *ConnManager) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	conn, err := m.pool.Acquire(actx)
	if err != nil {
		return nil, m.acquireError(ctx, err)
	}
	return conn, nil
}

func (m *ConnManager) acquireError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("acquire connection: %w", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		st := m.pool.Stat()
		if st.AcquiredConns() >= st.MaxConns() {
			return fmt.Errorf("acquire connection after %s: %w", m.acquireTimeout, domain.ErrPoolExhausted)
		}
	}
	return fmt.Errorf("acquire connection: %w: %w", domain.ErrStoreUnavailable, err)
}

// Release returns conn to the pool. When the connection is closed or opErr
// indicates a broken connection it is hijacked and closed, so the pool
// opens a fresh one on the next acquire.
func (m *ConnManager) Release(conn *pgxpool.Conn, opErr error) {
	if conn == nil {
		return
	}
	if conn.Conn().IsClosed() || isDisconnect(opErr) {
		raw := conn.Hijack()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = raw.Close(ctx)
		return
	}
	conn.Release()
}

// WithConn acquires a connection, runs fn under the query timeout and
// releases the connection on every path.
func (m *ConnManager) WithConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) (err error) {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { m.Release(conn, err) }()

	qctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	err = fn(qctx, conn)
	return m.queryError(ctx, qctx, err)
}

// WithTx runs fn inside a transaction on a scoped connection. The
// transaction commits when fn returns nil and rolls back otherwise.
func (m *ConnManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return m.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	})
}

// queryError reports a statement that hit the query deadline as
// ErrStoreUnavailable. Cancellation by the caller is passed through.
func (m *ConnManager) queryError(parent, qctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && qctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err)) {
		return fmt.Errorf("query exceeded %s: %w: %w", m.queryTimeout, domain.ErrStoreUnavailable, err)
	}
	if isDisconnect(err) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

// Stats returns a snapshot of the pool.
func (m *ConnManager) Stats() PoolStats {
	st := m.pool.Stat()
	return PoolStats{
		Acquired: st.AcquiredConns(),
		Idle:     st.IdleConns(),
		Total:    st.TotalConns(),
		Max:      st.MaxConns(),
	}
}

// Ping checks that a connection can be acquired and used.
func (m *ConnManager) Ping(ctx context.Context) error {
	return m.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

// Close closes the underlying pool.
func (m *ConnManager) Close() {
	m.pool.Close()
}

// isDisconnect reports whether err means the connection itself is unusable.
func isDisconnect(err error) bool {
	// context errors satisfy net.Error; pgx closes the connection itself
	// when a query is interrupted, which Release detects via IsClosed.
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
