package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/rezkam/flow7/internal/application/dispatch"
	"github.com/rezkam/flow7/internal/application/plan"
	"github.com/rezkam/flow7/internal/application/scheduler"
	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/tz"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx, so repository methods
// run unchanged inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides the SQLite implementation of every repository interface
// the application layer consumes. It is the development default and the
// engine the storage compliance suite runs against; semantics match the
// PostgreSQL store.
type Store struct {
	sqlDB *sql.DB
	db    querier
}

// Compile-time verification that Store implements the repository
// interfaces.
var (
	_ plan.Repository         = (*Store)(nil)
	_ plan.SettingsReader     = (*Store)(nil)
	_ settings.Repository     = (*Store)(nil)
	_ scheduler.JobStore      = (*Store)(nil)
	_ scheduler.PlanStore     = (*Store)(nil)
	_ dispatch.PlanStore      = (*Store)(nil)
	_ dispatch.SettingsReader = (*Store)(nil)
	_ dispatch.DeviceReader   = (*Store)(nil)
	_ tz.SettingsReader       = (*Store)(nil)
)

// NewStore opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store in tests.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// under the scheduler's concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{sqlDB: db, db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// executeInTransaction runs fn against a tx-bound Store with panic
// recovery.
func (s *Store) executeInTransaction(ctx context.Context, operationName string, fn func(txStore *Store) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "transaction panic, rolling back",
				"operation", operationName, "panic", p)
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "rollback after panic failed",
					"operation", operationName, "rollback_error", rbErr)
			}
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.ErrorContext(ctx, "rollback failed",
					"original_error", err, "rollback_error", rbErr)
				err = fmt.Errorf("transaction failed: %w (rollback error: %v)", err, rbErr)
			}
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(&Store{sqlDB: s.sqlDB, db: tx})
	return
}

// Atomic executes fn within a database transaction. SQLite serializes
// writers, which is what the overlap invariant relies on here; the
// PostgreSQL store takes a per-slot advisory lock instead.
func (s *Store) Atomic(ctx context.Context, fn func(repo plan.Repository) error) error {
	return s.executeInTransaction(ctx, "atomic", func(txStore *Store) error {
		return fn(txStore)
	})
}

// Timestamps are stored as RFC 3339 TEXT in UTC. The layout is fixed
// width: RFC3339Nano trims trailing zeros, which breaks lexicographic
// ordering within a second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := encodeTime(*t)
	return &s
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func decodeTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := decodeTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
