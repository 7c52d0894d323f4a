// The worker binary runs recovery and the dispatch pump without the
// HTTP surface, for deployments that split the API from notification
// delivery. Both binaries share the scheduler_jobs table; acquisition
// guards keep them from double-dispatching.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rezkam/flow7/internal/application/dispatch"
	"github.com/rezkam/flow7/internal/application/plan"
	"github.com/rezkam/flow7/internal/application/scheduler"
	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/config"
	"github.com/rezkam/flow7/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/flow7/internal/infrastructure/persistence/sqlite"
	"github.com/rezkam/flow7/internal/infrastructure/push"
	"github.com/rezkam/flow7/internal/tz"
	"github.com/rezkam/flow7/pkg/observability"
)

// storage is the union of repository interfaces the worker needs from
// an engine.
type storage interface {
	plan.Repository
	plan.SettingsReader
	settings.Repository
	scheduler.JobStore
	scheduler.PlanStore
	dispatch.PlanStore
	dispatch.SettingsReader
	dispatch.DeviceReader
	tz.SettingsReader
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.Observability.ServiceName+"-worker", "dev", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownProvider(lp.Shutdown, "logger provider")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, cfg.Observability.ServiceName+"-worker", "dev", cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownProvider(tp.Shutdown, "tracer provider")

	slog.InfoContext(ctx, "starting flow7 worker")

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	clock := tz.SystemClock{}
	zones := tz.NewResolver(store, clock)
	dispatcher := dispatch.New(store, store, store, zones, push.NewLogChannel(),
		dispatchOptions(cfg.Dispatch)...)
	sched := scheduler.New(store, store, zones, dispatcher, clock,
		schedulerOptions(cfg.Scheduler)...)

	if err := sched.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover pending notifications: %w", err)
	}

	return sched.Start(ctx)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage, error) {
	switch cfg.Engine {
	case "postgres":
		store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxConns,
			MaxIdleConns:    cfg.MinConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "storage initialized", "engine", "postgres", "dsn", maskPassword(cfg.DSN))
		return store, nil
	case "sqlite":
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "storage initialized", "engine", "sqlite", "path", cfg.SQLitePath)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", cfg.Engine)
	}
}

func schedulerOptions(cfg config.SchedulerConfig) []scheduler.Option {
	var opts []scheduler.Option
	if cfg.PoolSize > 0 {
		opts = append(opts, scheduler.WithPoolSize(cfg.PoolSize))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, scheduler.WithPollInterval(cfg.PollInterval))
	}
	if cfg.GraceWindow > 0 {
		opts = append(opts, scheduler.WithGraceWindow(cfg.GraceWindow))
	}
	if cfg.OperationTimeout > 0 {
		opts = append(opts, scheduler.WithOperationTimeout(cfg.OperationTimeout))
	}
	return opts
}

func dispatchOptions(cfg config.DispatchConfig) []dispatch.Option {
	var opts []dispatch.Option
	if cfg.Retries > 0 {
		opts = append(opts, dispatch.WithRetries(cfg.Retries))
	}
	if cfg.BackoffBase > 0 {
		opts = append(opts, dispatch.WithBackoffBase(cfg.BackoffBase))
	}
	if cfg.AttemptTimeout > 0 {
		opts = append(opts, dispatch.WithAttemptTimeout(cfg.AttemptTimeout))
	}
	return opts
}

func shutdownProvider(shutdown func(context.Context) error, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "failed to shutdown "+name, "error", err)
	}
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
