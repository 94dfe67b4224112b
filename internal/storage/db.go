// Package storage provides the relational storage layer for hemiciclo.
//
// The same queries run against an embedded SQLite file (modernc.org/sqlite)
// or a PostgreSQL server (pgx stdlib driver). Queries are written once with
// `?` placeholders and rebound per dialect. Reads are available on both *DB
// and *Tx; every mutation lives on *Tx so callers cannot write outside a
// transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites `?` placeholders to `$n` for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DetectDialect picks the backend from a DSN. postgres:// and postgresql://
// URLs select PostgreSQL; anything else is a SQLite file path.
func DetectDialect(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Options controls how Open treats the target database.
type Options struct {
	// Create allows Open to create a missing SQLite file. Commands that only
	// read or update an existing store leave it false.
	Create bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to its dialect. Read methods are defined on conn so
// they are promoted to both DB and Tx.
type conn struct {
	q       querier
	dialect Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}

// DB is an open store.
type DB struct {
	conn
	sqldb  *sql.DB
	logger *slog.Logger
}

// Tx is a store transaction. All writes go through a Tx.
type Tx struct {
	conn
	tx *sql.Tx
}

// Open connects to dsn. A SQLite path that does not exist yields
// ErrDatabaseMissing unless opts.Create is set.
func Open(ctx context.Context, dsn string, logger *slog.Logger, opts Options) (*DB, error) {
	dialect := DetectDialect(dsn)

	var (
		sqldb *sql.DB
		err   error
	)
	switch dialect {
	case DialectPostgres:
		sqldb, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("storage: open postgres: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
	default:
		if dsn == "" {
			return nil, fmt.Errorf("storage: empty database path: %w", ErrDatabaseMissing)
		}
		if _, statErr := os.Stat(dsn); statErr != nil {
			if !errors.Is(statErr, os.ErrNotExist) {
				return nil, fmt.Errorf("storage: stat %s: %w", dsn, statErr)
			}
			if !opts.Create {
				return nil, fmt.Errorf("storage: %s: %w", dsn, ErrDatabaseMissing)
			}
		}
		sqldb, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("storage: open sqlite: %w", err)
		}
		// One connection per run: SQLite serializes writers anyway, and a
		// single connection keeps transactions and reads on the same handle.
		sqldb.SetMaxOpenConns(1)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", dialect, err)
	}

	return &DB{
		conn:   conn{q: sqldb, dialect: dialect},
		sqldb:  sqldb,
		logger: logger,
	}, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// Dialect reports the backend in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.sqldb.PingContext(ctx)
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	if err := db.sqldb.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	return nil
}

// InTx runs fn inside one transaction. fn's error rolls the transaction back;
// a nil return commits it.
func (db *DB) InTx(ctx context.Context, fn func(*Tx) error) error {
	sqltx, err := db.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	tx := &Tx{conn: conn{q: sqltx, dialect: db.dialect}, tx: sqltx}
	if err := fn(tx); err != nil {
		if rbErr := sqltx.Rollback(); rbErr != nil {
			db.logger.Warn("storage: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// timeLayout is fixed width so timestamps stored as text sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullable turns a nil pointer into SQL NULL and dereferences anything else.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// anyArgs converts a typed slice into query arguments.
func anyArgs[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
