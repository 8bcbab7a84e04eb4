/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recognition ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then LEDGER_* environment)
  2. Open the store selected by LEDGER_STORE_DRIVER
  3. Build the rewards service and the aggregator
  4. Optionally load a demo scenario
  5. Configure HTTP router
  6. Start server with graceful shutdown

STORE DRIVERS:
  sqlite     LEDGER_SQLITE_PATH (":memory:" for a throwaway database)
  postgres   LEDGER_DATABASE_URL
  memory     nothing persisted

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # SQLite file database
  LEDGER_SQLITE_PATH=./data/ledger.db ./server

  # PostgreSQL with JSON logs
  LEDGER_STORE_DRIVER=postgres LEDGER_DATABASE_URL=postgres://... LEDGER_LOG_FORMAT=json ./server

  # In-memory demo
  LEDGER_STORE_DRIVER=memory LEDGER_SCENARIO=busy-week ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/api"
	"github.com/warp/recognition-ledger/config"
	"github.com/warp/recognition-ledger/ledger"
	"github.com/warp/recognition-ledger/rewards"
	"github.com/warp/recognition-ledger/store/postgres"
	"github.com/warp/recognition-ledger/store/sqlite"
)

const leaderboardCacheSize = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.Logger()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	// Initialize store
	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	svc := rewards.NewService(backend, backend, backend, rewards.WithLogger(log))
	agg := ledger.NewAggregator(backend,
		ledger.WithWeekStart(cfg.Weekday()),
		ledger.WithLeaderboardCache(leaderboardCacheSize, cfg.LeaderboardCacheTTL),
	)

	handler := api.NewHandler(backend, svc, agg, log)
	if cfg.Scenario != "" {
		if err := handler.LoadScenarioByID(ctx, cfg.Scenario); err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
	}

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":   cfg.Addr(),
			"driver": cfg.StoreDriver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// openBackend opens the configured store and returns its closer.
func openBackend(ctx context.Context, cfg *config.Config, log *logrus.Logger) (api.Backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("close sqlite")
			}
		}, nil

	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			URL:                  cfg.DatabaseURL,
			MaxConns:             cfg.DBMaxConns,
			SerializationRetries: cfg.SerializationRetries,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, store.Close, nil

	case config.DriverMemory:
		log.Warn("memory store: nothing will be persisted")
		return api.NewMemoryBackend(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
