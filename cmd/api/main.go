// cmd/api/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/config"
	"lendingdesk/internal/journal"
	"lendingdesk/internal/notification"
	"lendingdesk/internal/relay"
	"lendingdesk/internal/server"
	"lendingdesk/internal/store"
	"lendingdesk/internal/telemetry"
	"lendingdesk/internal/util"
	"lendingdesk/internal/waitlist"
)

func main() {
	cfg, err := config.Load(getEnv("LENDINGDESK_CONFIG", config.ConfigPath))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("lending desk stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	st, closeStore, ready, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := circulation.NewCoordinator(catalog.New(), waitlist.NewRegistry(), notification.NewBus(),
		circulation.WithLoanPeriod(cfg.LoanPeriod()),
		circulation.WithDueSoonWindow(cfg.DueSoonWindow()),
		circulation.WithLogger(logger),
		circulation.WithMeter(otel.Meter("lendingdesk")),
	)
	if err := circulation.Restore(ctx, coord, st); err != nil {
		return err
	}

	routes := server.Options{
		Service:   cfg.ServiceName,
		Logger:    logger,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
	var checks []func(context.Context) error
	if ready != nil {
		checks = append(checks, ready)
	}

	opts := []circulation.ServiceOption{circulation.WithServiceLogger(logger)}
	if cfg.JournalEnabled {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open journal database: %w", err)
		}
		defer db.Close()
		j := journal.New(db)
		if err := j.Migrate(ctx); err != nil {
			return err
		}
		opts = append(opts, circulation.WithJournal(j))
		routes.History = j
		checks = append(checks, db.PingContext)
		logger.Info("event journal enabled")
	}
	if cfg.RedisAddr != "" {
		r, err := relay.NewRedisRelay(relay.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Stream: cfg.RelayStream})
		if err != nil {
			return err
		}
		defer r.Close()
		opts = append(opts, circulation.WithRelay(r))
		routes.Relayed = r
		checks = append(checks, r.Ping)
		logger.Info("notification relay enabled", "stream", r.Stream())
	}
	svc := circulation.NewService(coord, st, opts...)

	books, loans := coord.Snapshot()
	logger.Info("lending desk restored", "store", cfg.Store, "books", len(books), "loans", len(loans))

	routes.Ready = allReady(checks)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(svc, routes),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go sweepDueLoans(ctx, svc, cfg.DueSweepInterval(), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lending desk listening", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the configured store, a closer and a readiness check.
// SQL stores sit behind a circuit breaker.
func openStore(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) (circulation.Store, func(), func(context.Context) error, error) {
	var driver, dsn string
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), func() {}, nil, nil
	case config.StoreSQLite:
		driver, dsn = store.DriverSQLite, cfg.SQLitePath
	case config.StorePostgres:
		driver, dsn = store.DriverPostgres, cfg.DatabaseURL
	default:
		return nil, nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	sqlStore, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	breaker := store.NewBreaker(cfg.Store, sqlStore, store.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.BreakerFailures),
		OpenTimeout:         cfg.BreakerOpenTimeout(),
	}, logger)
	closer := func() {
		if err := sqlStore.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
	return breaker, closer, sqlStore.Ping, nil
}

// allReady combines readiness checks; the first failure wins.
func allReady(checks []func(context.Context) error) func(context.Context) error {
	if len(checks) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// sweepDueLoans sends due-soon reminders every interval until ctx ends.
func sweepDueLoans(ctx context.Context, svc circulation.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notes, err := svc.NotifyDueSoon(ctx)
			if err != nil {
				logger.Error("due soon sweep", "error", err)
				continue
			}
			if len(notes) > 0 {
				logger.Info("due soon reminders sent", "count", len(notes))
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
