// Package storage is the Storage Adapter (spec.md §4.1): durable
// persistence of State records in a single fixed-schema table, with
// canonical JSON array columns, a prepared-statement cache, lock-retry on
// contention, and re-entrant transactions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/kasuboski/watchstate/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = errors.New("storage: not found")
	ErrAlreadyPersisted = errors.New("storage: already persisted")
	ErrNoPrimaryKey     = errors.New("storage: no primary key")
)

// Dialect names the SQL identifier-quoting convention in effect. Only
// SQLite is wired to a driver; the others exist because the spec's
// quoting rule is dialect-aware and a future driver swap shouldn't touch
// call sites.
type Dialect string

const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
	MSSQL  Dialect = "mssql"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier quotes name per dialect's convention, rejecting anything
// that isn't a plain identifier (spec.md §4.1).
func QuoteIdentifier(dialect Dialect, name string) (string, error) {
	if !identifierRE.MatchString(name) {
		return "", fmt.Errorf("storage: invalid identifier %q", name)
	}

	switch dialect {
	case MySQL:
		return "`" + name + "`", nil
	case MSSQL:
		return "[" + name + "]", nil
	default:
		return `"` + name + `"`, nil
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS "state" (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	watched INTEGER NOT NULL,
	updated INTEGER NOT NULL,
	via TEXT,
	title TEXT,
	year INTEGER,
	season INTEGER,
	episode INTEGER,
	guids TEXT,
	parent TEXT,
	metadata TEXT,
	extra TEXT
);

CREATE INDEX IF NOT EXISTS idx_state_type ON "state"(type);
CREATE INDEX IF NOT EXISTS idx_state_updated ON "state"(updated);
`

// Schema returns the DDL Init applies, for operator inspection (cmd/schema.go).
func Schema() string {
	return schema
}

// Storage is the sqlite-backed Storage Adapter.
type Storage struct {
	db      *sql.DB
	dialect Dialect

	stmtMu sync.RWMutex
	stmts  map[string]*sql.Stmt
}

// memDBSeq numbers the in-memory databases opened through New.
var memDBSeq atomic.Int64

// New opens (without yet initializing) the sqlite database at filePath.
// For ":memory:" it opens a named shared-cache in-memory database private
// to this Storage, so every pooled connection sees the same tables.
func New(filePath string) (*Storage, error) {
	dsn := filePath + "?_journal_mode=WAL&_busy_timeout=5000"
	if filePath == ":memory:" {
		dsn = fmt.Sprintf("file:watchstate-mem-%d?mode=memory&cache=shared&_busy_timeout=5000", memDBSeq.Add(1))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	return &Storage{
		db:      db,
		dialect: SQLite,
		stmts:   make(map[string]*sql.Stmt),
	}, nil
}

// Init applies the state table schema. Idempotent: safe to call on every
// startup, matching the teacher's own Init(ctx, schemas...) shape.
func (s *Storage) Init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *Storage) Close() error {
	s.stmtMu.Lock()
	for q, stmt := range s.stmts {
		stmt.Close()
		delete(s.stmts, q)
	}
	s.stmtMu.Unlock()

	return s.db.Close()
}

type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromCtx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Storage) execer(ctx context.Context) execer {
	if tx, ok := txFromCtx(ctx); ok {
		return tx
	}
	return s.db
}

// Transactional wraps f in a single transaction. A nested call (one made
// while ctx already carries a transaction) reuses it rather than opening a
// new one — the re-entrant behavior spec.md §4.1/§5 require.
func (s *Storage) Transactional(ctx context.Context, f func(ctx context.Context) error) error {
	if _, ok := txFromCtx(ctx); ok {
		return f(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.FromCtx(ctx).Debugw("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	return tx.Commit()
}

// maxLockAttempts and lockRetryWait implement the lock-retry discipline
// exactly as specified: 4 attempts, sleep 4+rand(1..3)s between them. Open
// question in spec.md §9: the backoff is not multiplicative; preserved as
// specified rather than "corrected".
const maxLockAttempts = 4

func lockRetryWait() time.Duration {
	return time.Duration(4+rand.Intn(3)+1) * time.Second
}

func isLockedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

func withLockRetry[T any](ctx context.Context, f func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		result, err = f()
		if err == nil || !isLockedErr(err) || attempt == maxLockAttempts {
			return result, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(lockRetryWait()):
		}
	}

	return result, err
}

// prepared returns the cached statement for query, preparing (against the
// base *sql.DB, never a transaction) and caching it on first use.
func (s *Storage) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmts[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	s.stmts[query] = stmt
	return stmt, nil
}

func (s *Storage) invalidate(query string) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		stmt.Close()
		delete(s.stmts, query)
	}
}

// execPrepared runs query (insert/update only — §4.1's prepared-statement
// cache is scoped to those two statements) through the cache, binding to
// ctx's transaction when present, with lock retry, invalidating the cache
// entry on any error.
func (s *Storage) execPrepared(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.prepared(ctx, query)
	if err != nil {
		return nil, err
	}

	run := func() (sql.Result, error) {
		active := stmt
		if tx, ok := txFromCtx(ctx); ok {
			active = tx.StmtContext(ctx, stmt)
		}
		return active.ExecContext(ctx, args...)
	}

	res, err := withLockRetry(ctx, run)
	if err != nil {
		s.invalidate(query)
	}
	return res, err
}
