// Package store persists sessions, pipeline tasks, and analysis history in
// SQLite. All three stores share one database handle and one disk-IO
// fallback policy: when the configured path cannot be opened or written,
// the store silently falls over to a tempdir database (logged once per
// process).
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // register "sqlite" driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// fallbackOnce ensures the tempdir fallback is logged once per process.
var fallbackOnce sync.Once

// DB wraps the shared SQLite handle.
type DB struct {
	db   *sql.DB
	path string
}

// SQL exposes the underlying handle for health checks.
func (d *DB) SQL() *sql.DB { return d.db }

// Path returns the active database file path (the fallback path if the
// configured one was unusable).
func (d *DB) Path() string { return d.path }

// Close closes the database handle.
func (d *DB) Close() error { return d.db.Close() }

// Open opens (or creates) the SQLite database at path and applies the
// embedded migrations. On disk-IO failure it retries once against a
// tempdir path.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := openAt(ctx, path)
	if err == nil {
		return db, nil
	}
	if !isDiskError(err) {
		return nil, err
	}

	fallback := filepath.Join(os.TempDir(), "factgate", filepath.Base(path))
	fallbackOnce.Do(func() {
		slog.Warn("Primary database path unusable, falling back to tempdir",
			"path", path, "fallback", fallback, "error", err)
	})
	db, ferr := openAt(ctx, fallback)
	if ferr != nil {
		return nil, fmt.Errorf("primary open failed (%v); fallback open failed: %w", err, ferr)
	}
	return db, nil
}

func openAt(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection per write: SQLite serializes writers anyway, and a
	// single connection avoids SQLITE_BUSY between the three stores.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// runMigrations applies all pending embedded migrations.
func runMigrations(db *sql.DB) error {
	if err := checkEmbeddedMigrations(); err != nil {
		return err
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "factgate", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver; closing the migrate instance would also
	// close the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func checkEmbeddedMigrations() error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			return nil
		}
	}
	return errors.New("no embedded migration files found")
}

// isDiskError reports whether err looks like a disk-IO problem rather than
// a schema or usage error.
func isDiskError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "disk i/o error") ||
		strings.Contains(msg, "readonly database") ||
		strings.Contains(msg, "read-only file system") ||
		strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no space left")
}

// nowUTC truncates to milliseconds so round-trips through SQLite compare
// stably in tests.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
