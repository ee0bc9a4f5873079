// Package storage implements the hybrid relational+blob persistence layer:
// the single-writer/many-reader connection pool, the blob store and the
// metadata store described by the engine design.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/menxli/lfss-go/pkg/lfsserr"
	"github.com/menxli/lfss-go/pkg/log"
	"github.com/menxli/lfss-go/pkg/metrics"
)

// ReadCursor is a handle bound to the bounded reader pool. Its statements
// run directly on the reader handle outside any transaction, so two
// statements on one cursor can observe different committed states.
type ReadCursor struct {
	db *sql.DB
}

// QueryContext runs a query on the read cursor.
func (c *ReadCursor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the read cursor.
func (c *ReadCursor) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// WriteCursor is the single exclusive handle for mutating statements. The
// pool guarantees at most one WriteCursor is live at any time.
type WriteCursor struct {
	tx *sql.Tx
}

// ExecContext runs a mutating statement on the write cursor's transaction.
func (c *WriteCursor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query within the write cursor's transaction (a write
// transaction may need to read-back a row it just touched).
func (c *WriteCursor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query within the write transaction.
func (c *WriteCursor) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, query, args...)
}

// Hook holds the three deferred callbacks attached to a transaction scope.
// OnBeforeCommit may return an error to force a rollback. OnCommit and
// OnRollback run best-effort after the fact and must never panic out —
// any internal error is logged, never propagated.
type Hook struct {
	OnBeforeCommit func(ctx context.Context, c *WriteCursor) error
	OnCommit       func()
	OnRollback     func()
}

// Pool owns one writer and N reader handles against the same SQLite file.
type Pool struct {
	writerDB *sql.DB
	readerDB *sql.DB

	writerMu   sync.Mutex
	readerSema chan struct{}
}

// Open creates the pool, running schema migrations against the writer
// handle before any cursor is handed out.
func Open(dataHome string, readerPoolSize int) (*Pool, error) {
	dsn := fmt.Sprintf("file:%s/index.db?_journal_mode=WAL&_foreign_keys=on", dataHome)

	writerDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening writer handle: %w", err)
	}
	writerDB.SetMaxOpenConns(1)

	readerDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writerDB.Close()
		return nil, fmt.Errorf("opening reader handle: %w", err)
	}
	readerDB.SetMaxOpenConns(readerPoolSize)

	p := &Pool{
		writerDB:   writerDB,
		readerDB:   readerDB,
		readerSema: make(chan struct{}, readerPoolSize),
	}

	if err := migrate(context.Background(), writerDB); err != nil {
		p.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	metrics.ReaderPoolCapacity.Set(float64(readerPoolSize))
	return p, nil
}

// Close releases both underlying handles.
func (p *Pool) Close() error {
	err1 := p.writerDB.Close()
	err2 := p.readerDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// AcquireReader blocks until a reader slot is available and returns a
// bounded ReadCursor. Release must be called exactly once.
func (p *Pool) AcquireReader(ctx context.Context) (*ReadCursor, func(), error) {
	select {
	case p.readerSema <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	metrics.ReaderPoolInUse.Inc()
	release := func() {
		metrics.ReaderPoolInUse.Dec()
		<-p.readerSema
	}
	return &ReadCursor{db: p.readerDB}, release, nil
}

// WithReader runs fn with a bounded reader cursor, releasing it afterward.
func (p *Pool) WithReader(ctx context.Context, fn func(c *ReadCursor) error) error {
	c, release, err := p.AcquireReader(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(c)
}

// WithTransaction runs fn under the single writer lock inside a BEGIN/COMMIT
// scope. If fn or hook.OnBeforeCommit return an error, the transaction is
// rolled back and the error (translated, if it is a locking error) is
// returned. hook may be nil.
func (p *Pool) WithTransaction(ctx context.Context, hook *Hook, fn func(c *WriteCursor) error) error {
	timer := metrics.NewTimer()
	p.writerMu.Lock()
	defer p.writerMu.Unlock()
	timer.ObserveDuration(metrics.WriterLockWaitSeconds)

	tx, err := p.writerDB.BeginTx(ctx, nil)
	if err != nil {
		return translateTxError(err)
	}
	cursor := &WriteCursor{tx: tx}

	if err := fn(cursor); err != nil {
		tx.Rollback()
		runRollbackHook(hook)
		return err
	}

	if hook != nil && hook.OnBeforeCommit != nil {
		if err := hook.OnBeforeCommit(ctx, cursor); err != nil {
			tx.Rollback()
			runRollbackHook(hook)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		runRollbackHook(hook)
		return translateTxError(err)
	}

	if hook != nil && hook.OnCommit != nil {
		runSafely(hook.OnCommit)
	}
	return nil
}

func runRollbackHook(hook *Hook) {
	if hook != nil && hook.OnRollback != nil {
		runSafely(hook.OnRollback)
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error().Interface("panic", r).Msg("hook callback panicked")
		}
	}()
	fn()
}

func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"):
		return lfsserr.Wrap(lfsserr.KindDatabaseLocked, "database is locked", err)
	case strings.Contains(msg, "cannot start a transaction within a transaction"):
		return lfsserr.Wrap(lfsserr.KindDatabaseTransaction, "reentrant transaction", err)
	default:
		return err
	}
}
