// Package testutil provides shared test infrastructure: migrated SQLite
// databases for unit tests and a PostgreSQL container for integration tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if !testing.Short() {
//	        tc := testutil.MustStartPostgres()
//	        defer tc.Terminate()
//	        pgDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    }
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/hemiciclo/internal/storage"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a PostgreSQL container. Calls os.Exit(1) on
// failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "hemiciclo",
			"POSTGRES_PASSWORD": "hemiciclo",
			"POSTGRES_DB":       "hemiciclo",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://hemiciclo:hemiciclo@%s:%s/hemiciclo?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

var dbSeq atomic.Int64

// NewTestDB creates a fresh database inside the container, connects a
// storage.DB to it and runs all migrations. Each call gets its own database
// so tests never see each other's rows.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	name := fmt.Sprintf("hemiciclo_test_%d", dbSeq.Add(1))
	admin, err := pgx.Connect(ctx, tc.DSN)
	if err != nil {
		return nil, fmt.Errorf("testutil: connect admin: %w", err)
	}
	_, err = admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	_ = admin.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("testutil: create database %s: %w", name, err)
	}

	dsn := strings.Replace(tc.DSN, "/hemiciclo?", "/"+name+"?", 1)
	db, err := storage.Open(ctx, dsn, logger, storage.Options{})
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if _, err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// NewSQLiteDB returns a migrated SQLite database in a temp directory. It is
// closed when the test ends.
func NewSQLiteDB(t testing.TB) *storage.DB {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hemiciclo.db")
	db, err := storage.Open(ctx, path, TestLogger(), storage.Options{Create: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}

// MustTx runs fn in a transaction and fails the test on error.
func MustTx(t testing.TB, db *storage.DB, fn func(*storage.Tx) error) {
	t.Helper()
	require.NoError(t, db.InTx(context.Background(), fn))
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
