package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/flow7/internal/application/dispatch"
	"github.com/rezkam/flow7/internal/application/plan"
	"github.com/rezkam/flow7/internal/application/scheduler"
	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/tz"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so repository
// methods run unchanged inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides the PostgreSQL implementation of every repository
// interface the application layer consumes.
type Store struct {
	pool *pgxpool.Pool
	db   querier
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

// NewStore creates a new PostgreSQL store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// finalizeTx rolls back on error and commits on success. Panics are
// handled separately before finalizeTx runs.
func finalizeTx(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.ErrorContext(ctx, "rollback failed",
				"original_error", *err, "rollback_error", rbErr)
			*err = fmt.Errorf("transaction failed: %w (rollback error: %v)", *err, rbErr)
		}
	} else {
		*err = tx.Commit(ctx)
		if *err != nil {
			slog.ErrorContext(ctx, "transaction commit failed", "error", *err)
		}
	}
}

// executeInTransaction runs fn against a tx-bound Store with panic
// recovery.
func (s *Store) executeInTransaction(ctx context.Context, operationName string, fn func(txStore *Store) error) (err error) {
	start := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "transaction panic, rolling back",
				"operation", operationName, "panic", p)
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.ErrorContext(ctx, "rollback after panic failed",
					"operation", operationName, "rollback_error", rbErr)
			}
			panic(p)
		}

		finalizeTx(ctx, tx, &err)
		if err == nil {
			slog.DebugContext(ctx, "transaction completed",
				"operation", operationName,
				"duration_ms", time.Since(start).Milliseconds())
		}
	}()

	err = fn(&Store{pool: s.pool, db: tx})
	return
}

// Atomic executes fn within a database transaction. The Repository passed
// to fn operates on that transaction, so the locking overlap read and the
// write it guards commit or roll back together.
func (s *Store) Atomic(ctx context.Context, fn func(repo plan.Repository) error) error {
	return s.executeInTransaction(ctx, "atomic", func(txStore *Store) error {
		return fn(txStore)
	})
}
