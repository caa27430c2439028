/*
Package sqlite provides a SQLite-backed implementation of kpi.TxStore.

PURPOSE:
  Persists indicators, period containers and the five fact tables. The
  engine sees one Record shape; this package maps it onto the tables.

KEY TABLES:
  indicators, indicator_categories, categories, topics
  datapoints:   one row per Ethiopian fiscal year (year_ec UNIQUE)
  quarters:     reference rows 1-4
  months:       reference rows 1-12
  annual_data:  UNIQUE(indicator_id, datapoint_id)
  quarter_data: UNIQUE(indicator_id, datapoint_id, quarter_id)
  month_data:   UNIQUE(indicator_id, datapoint_id, month_id)
  kpi_records:  UNIQUE(indicator_id, record_type, date) for weekly/daily

VALUES:
  Performance and target are TEXT holding a decimal string, NULL when
  absent. Timestamps are RFC3339 text, record dates are YYYY-MM-DD.

CONCURRENCY:
  The pool is capped at one connection, which serializes access and keeps
  ":memory:" databases from splitting across connections. Writes that hit
  SQLITE_BUSY or "database is locked" are retried with a constant backoff.
  Inside WithTx every call goes through the same *sql.Tx.

QUERIES:
  Built with squirrel using '?' placeholders.

USAGE:
  store, err := sqlite.New("./data/kpi.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := kpi.NewEngine(store, logger)

SEE ALSO:
  - kpi/store.go: Interface definitions
  - kpi/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"

	"github.com/ethstat/kpi-dashboard/kpi"
)

// Store implements kpi.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

// RetryPolicy controls how busy-database errors are retried.
type RetryPolicy struct {
	MaxRetries uint64
	Interval   time.Duration
}

// DefaultRetryPolicy retries five times, 50ms apart.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, Interval: 50 * time.Millisecond}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.conn.retry = p }
}

// New creates a new SQLite store with the given database path and migrates
// the schema. Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db, opts...)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, conn: &conn{db: db, q: db, retry: DefaultRetryPolicy}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ kpi.TxStore = (*Store)(nil)

// WithTx executes a function within a database transaction. Busy errors
// retry the whole function.
func (s *Store) WithTx(ctx context.Context, fn func(kpi.Store) error) error {
	return s.atomic(ctx, func(c *conn) error { return fn(c) })
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		title_eng TEXT NOT NULL,
		title_amh TEXT NOT NULL DEFAULT '',
		rank INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name_eng TEXT NOT NULL,
		name_amh TEXT NOT NULL DEFAULT '',
		topic_id TEXT REFERENCES topics(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		code TEXT UNIQUE,
		title_eng TEXT NOT NULL,
		title_amh TEXT NOT NULL DEFAULT '',
		parent_id TEXT REFERENCES indicators(id) ON DELETE SET NULL,
		frequency TEXT NOT NULL,
		kpi_characteristic TEXT NOT NULL DEFAULT 'inc',
		measurement_unit TEXT NOT NULL DEFAULT '',
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_parent ON indicators(parent_id);

	CREATE TABLE IF NOT EXISTS indicator_categories (
		indicator_id TEXT NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (indicator_id, category_id)
	);

	CREATE TABLE IF NOT EXISTS datapoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		year_ec INTEGER NOT NULL UNIQUE,
		year_gc TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quarters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number INTEGER NOT NULL UNIQUE,
		title_eng TEXT NOT NULL,
		title_amh TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS months (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number INTEGER NOT NULL UNIQUE,
		name_eng TEXT NOT NULL,
		name_amh TEXT NOT NULL DEFAULT '',
		is_fiscal INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS annual_data (
		id TEXT PRIMARY KEY,
		indicator_id TEXT NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		datapoint_id INTEGER NOT NULL REFERENCES datapoints(id),
		performance TEXT,
		target TEXT,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (indicator_id, datapoint_id)
	);

	CREATE TABLE IF NOT EXISTS quarter_data (
		id TEXT PRIMARY KEY,
		indicator_id TEXT NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		datapoint_id INTEGER NOT NULL REFERENCES datapoints(id),
		quarter_id INTEGER NOT NULL REFERENCES quarters(id),
		performance TEXT,
		target TEXT,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (indicator_id, datapoint_id, quarter_id)
	);

	CREATE TABLE IF NOT EXISTS month_data (
		id TEXT PRIMARY KEY,
		indicator_id TEXT NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		datapoint_id INTEGER NOT NULL REFERENCES datapoints(id),
		month_id INTEGER NOT NULL REFERENCES months(id),
		performance TEXT,
		target TEXT,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (indicator_id, datapoint_id, month_id)
	);

	CREATE TABLE IF NOT EXISTS kpi_records (
		id TEXT PRIMARY KEY,
		indicator_id TEXT NOT NULL REFERENCES indicators(id) ON DELETE CASCADE,
		record_type TEXT NOT NULL CHECK (record_type IN ('daily', 'weekly')),
		date TEXT NOT NULL,
		performance TEXT,
		target TEXT,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (indicator_id, record_type, date)
	);

	CREATE INDEX IF NOT EXISTS idx_kpi_records_indicator_date
		ON kpi_records(indicator_id, record_type, date);
	`

// =============================================================================
// CONNECTION - shared by the pool and by transactions
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements kpi.Store against q. db is nil when q is a transaction.
type conn struct {
	db    *sql.DB
	q     queryer
	retry RetryPolicy
}

var _ kpi.Store = (*conn)(nil)

// atomic runs fn in a transaction, or directly when already inside one.
func (c *conn) atomic(ctx context.Context, fn func(*conn) error) error {
	if c.db == nil {
		return fn(c)
	}
	return c.withRetry(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(&conn{q: tx, retry: c.retry}); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// withRetry retries op while the database reports it is busy. Inside a
// transaction op runs once; the outer atomic call owns the retry.
func (c *conn) withRetry(ctx context.Context, op func() error) error {
	if c.db == nil {
		return op()
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retry.Interval), c.retry.MaxRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isBusyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *conn) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return c.q.ExecContext(ctx, query, args...)
}

func (c *conn) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return c.q.QueryContext(ctx, query, args...)
}

func (c *conn) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return c.q.QueryRowContext(ctx, query, args...), nil
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatDate(t time.Time) string {
	return t.Format(kpi.DateLayout)
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(kpi.DateLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
