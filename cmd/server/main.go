// Package main is the entry point for the unitwork demo API server.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"unitwork/internal/core/journal"
	"unitwork/internal/core/schema"
	"unitwork/internal/core/tx"
	"unitwork/internal/core/uow"
	"unitwork/internal/domain/catalog"
	"unitwork/internal/domain/staff"
	v1 "unitwork/internal/infrastructure/http/v1"
	"unitwork/internal/infrastructure/http/v1/handlers"
	"unitwork/internal/infrastructure/storage/memory"
	"unitwork/internal/infrastructure/storage/postgres"
	"unitwork/internal/infrastructure/storage/sqldb"
	"unitwork/internal/metrics"
	"unitwork/pkg/logger"
)

//go:embed schema.sql
var postgresSchema string

// storage is the backend selected by STORAGE_DRIVER together with what the server
// needs around it.
type storage struct {
	backend tx.Backend
	pinger  handlers.Pinger
	close   func()
	stats   func(ctx context.Context)
}

func main() {
	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := logger.WithLogger(context.Background(), log)
	driver := getEnv("STORAGE_DRIVER", "memory")
	log.Infow("starting unitwork server", "driver", driver)

	// --- Storage ---
	store, err := openStorage(ctx, driver)
	if err != nil {
		log.Fatalw("failed to open storage", "driver", driver, "error", err)
	}
	defer store.close()

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		log.Fatalw("failed to register metrics", "error", err)
	}

	// --- Unit of work configuration ---
	uowCfg := uow.Config{
		DefaultIsolation: isolationFromEnv("DEFAULT_ISOLATION", tx.ReadCommitted),
		CommandTimeout:   getEnvDuration("COMMAND_TIMEOUT", 30*time.Second),
		Logger:           log,
		Metrics:          collector,
	}
	if getEnv("JOURNAL_ENABLED", "false") == "true" {
		j, err := journal.New(journal.WithCompressThreshold(getEnvInt("JOURNAL_COMPRESS_THRESHOLD", 1024)))
		if err != nil {
			log.Fatalw("failed to initialize journal", "error", err)
		}
		uowCfg.Journal = j
		log.Infow("change journal enabled", "table", j.Table())
	}

	// --- Services ---
	mapper := schema.NewMapper()
	catalogService := catalog.NewService(store.backend, mapper, uowCfg)
	staffService := staff.NewService(store.backend, mapper, uowCfg)

	if getEnv("SEED_EMPLOYEES", "true") == "true" {
		seeded, err := staffService.Seed(ctx)
		if err != nil {
			log.Fatalw("failed to seed employees", "error", err)
		}
		log.Infow("employee seed checked", "inserted", seeded)
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Catalog:  catalogService,
		Staff:    staffService,
		Storage:  store.pinger,
		Driver:   driver,
		Logger:   log,
		Gatherer: registry,
		Debug:    getEnv("APP_ENV", "development") == "development",
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	if store.stats != nil {
		go reportStats(ctx, store.stats, getEnvDuration("POOL_STATS_INTERVAL", 5*time.Minute))
	}

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func openStorage(ctx context.Context, driver string) (*storage, error) {
	switch driver {
	case "memory":
		backend, err := memory.New()
		if err != nil {
			return nil, err
		}
		return &storage{backend: backend, close: func() {}}, nil

	case "postgres":
		cfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
		if maxConns := getEnvInt("DB_MAX_CONNS", 25); maxConns > 0 {
			cfg.MaxConns = int32(maxConns)
		}
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if getEnv("APPLY_SCHEMA", "false") == "true" {
			if _, err := pool.Exec(ctx, postgresSchema); err != nil {
				pool.Close()
				return nil, fmt.Errorf("apply schema: %w", err)
			}
			logger.Info(ctx, "database schema applied")
		}
		return &storage{
			backend: postgres.NewBackend(pool),
			pinger:  handlers.PingFunc(pool.Ping),
			close:   pool.Close,
			stats:   pool.LogStats,
		}, nil

	default:
		dialect, ok := sqldb.DialectByName(driver)
		if !ok {
			return nil, fmt.Errorf("unknown storage driver %q", driver)
		}
		backend, err := sqldb.Open(ctx, sqldb.Config{
			Dialect:      dialect,
			DSN:          mustEnv("DATABASE_URL"),
			MaxOpenConns: getEnvInt("DB_MAX_CONNS", 25),
		})
		if err != nil {
			return nil, err
		}
		return &storage{
			backend: backend,
			pinger:  backend.DB(),
			close:   func() { _ = backend.Close() },
		}, nil
	}
}

func reportStats(ctx context.Context, stats func(context.Context), every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		stats(ctx)
	}
}

func isolationFromEnv(key string, defaultValue tx.IsolationLevel) tx.IsolationLevel {
	if value := os.Getenv(key); value != "" {
		level, err := tx.ParseIsolationLevel(value)
		if err == nil {
			return level
		}
		fmt.Printf("%s: %v, using %s\n", key, err, defaultValue)
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
