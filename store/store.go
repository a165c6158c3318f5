// Package store persists cars, analyses, market observations and batch
// sessions in a relational database. Postgres (lib/pq), MySQL
// (go-sql-driver/mysql) and SQLite (modernc.org/sqlite) are supported through
// database/sql; the same Store also answers graph-context queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/dealmesh/core"
)

// Dialect selects SQL flavour and driver.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnsupportedDialect is returned by Open for unknown dialects.
	ErrUnsupportedDialect = errors.New("store: unsupported dialect")
)

// Interface compliance.
var (
	_ core.AnalysisStore   = (*Store)(nil)
	_ core.SessionRecorder = (*Store)(nil)
	_ core.GraphContext    = (*Store)(nil)
)

// Store is the relational persistence collaborator.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// ParseDialect maps a configuration value to a Dialect. "postgresql" and
// "sqlite3" are accepted as aliases.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3", "":
		return SQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
}

// Open connects, pings and migrates the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	switch dialect {
	case Postgres, MySQL, SQLite:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}

	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool without touching the schema.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func schema(d Dialect) []string {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	switch d {
	case Postgres:
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	case MySQL:
		id, ts = "BIGINT AUTO_INCREMENT PRIMARY KEY", "DATETIME"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
  id VARCHAR(64) PRIMARY KEY,
  car_count INTEGER NOT NULL,
  successful INTEGER NOT NULL DEFAULT 0,
  status VARCHAR(32) NOT NULL,
  started_at ` + ts + ` NOT NULL,
  completed_at ` + ts + ` NULL
)`,
		`CREATE TABLE IF NOT EXISTS cars (
  id ` + id + `,
  session_id VARCHAR(64) NULL,
  make VARCHAR(50) NOT NULL,
  model VARCHAR(100) NOT NULL,
  year INTEGER NOT NULL,
  mileage INTEGER NOT NULL,
  price_paid DOUBLE PRECISION NOT NULL,
  trim_level VARCHAR(100) NULL,
  vin VARCHAR(32) NULL,
  fuel_type VARCHAR(50) NULL,
  transmission VARCHAR(50) NULL,
  created_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS analyses (
  id ` + id + `,
  car_id BIGINT NOT NULL,
  rule_score DOUBLE PRECISION NULL,
  rule_verdict VARCHAR(50) NULL,
  llm_score DOUBLE PRECISION NULL,
  llm_verdict VARCHAR(50) NULL,
  llm_reasoning TEXT NULL,
  market_median DOUBLE PRECISION NULL,
  price_delta DOUBLE PRECISION NULL,
  price_delta_pct DOUBLE PRECISION NULL,
  deal_category VARCHAR(50) NULL,
  data_source VARCHAR(100) NULL,
  sample_count INTEGER NOT NULL DEFAULT 0,
  success BOOLEAN NOT NULL,
  version VARCHAR(20) NOT NULL,
  created_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS market_data (
  id ` + id + `,
  car_id BIGINT NOT NULL,
  search_query VARCHAR(500) NULL,
  price DOUBLE PRECISION NOT NULL,
  url VARCHAR(1000) NULL,
  source VARCHAR(100) NULL,
  similarity DOUBLE PRECISION NULL,
  created_at ` + ts + ` NOT NULL
)`,
	}
}

// rebind rewrites '?' placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insert runs an INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, q string, args ...any) (int64, error) {
	if s.dialect == Postgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.rebind(q)+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
