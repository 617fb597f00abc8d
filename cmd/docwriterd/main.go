// Command docwriterd demonstrates the batched write coordinator end to end:
// it loads configuration, optionally stands up the Postgres-backed journal,
// starts a Coordinator against a fixed host list, and serves the adminapi
// control surface until signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nmslite/docwriter/internal/adminapi"
	"github.com/nmslite/docwriter/internal/config"
	"github.com/nmslite/docwriter/internal/coordinator"
	"github.com/nmslite/docwriter/internal/hostclient"
	"github.com/nmslite/docwriter/internal/journal"
	"github.com/nmslite/docwriter/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Init(cfg.Logging)
	logger.Info("starting docwriterd",
		"admin_port", cfg.Admin.Port,
		"coordinator_batch_size", cfg.Coordinator.BatchSize,
		"hosts", cfg.Coordinator.Hosts,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := coordinator.New(logger).
		WithBatchSize(cfg.Coordinator.BatchSize).
		WithThreadCount(cfg.Coordinator.ThreadCount).
		WithJobName(cfg.Coordinator.JobName).
		WithTransform(cfg.Coordinator.Transform)

	journalStore := initJournal(ctx, cfg, logger)
	if journalStore != nil {
		coord.WithJournal(journalStore)
	}

	urlFormat := cfg.Coordinator.HostURLFormat
	if urlFormat == "" {
		urlFormat = "http://%s"
	}
	coord.WithForestConfig(hostclient.StaticForestConfig{Hosts: cfg.Coordinator.Hosts}, hostclient.Factory(urlFormat))

	if err := coord.Start(coordinator.JobTicket{JobID: cfg.Coordinator.JobName, JobName: cfg.Coordinator.JobName}); err != nil {
		log.Fatalf("coordinator start failed: %v", err)
	}

	srv := initAdminServer(cfg, coord, logger)
	go startServer(srv, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	shutdown(cancel, srv, coord, logger)
}

func initJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) *journal.Store {
	if !cfg.Journal.Enabled {
		logger.Info("journal disabled")
		return nil
	}

	dsn := cfg.Database.ConnString()
	if err := journal.RunMigrations(dsn); err != nil {
		log.Fatalf("journal migrations failed: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("journal pool init failed: %v", err)
	}

	store := journal.NewStore(pool, cfg.Journal.BatchSize, cfg.Journal.GetFlushInterval(), logger)
	go func() {
		if err := store.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("journal store stopped", "error", err)
		}
	}()

	logger.Info("journal store started",
		"batch_size", cfg.Journal.BatchSize,
		"flush_interval_ms", cfg.Journal.FlushIntervalMS,
	)
	return store
}

func initAdminServer(cfg *config.Config, coord *coordinator.Coordinator, logger *slog.Logger) *http.Server {
	router := adminapi.NewRouter(coord, []byte(cfg.Auth.JWTSecret), logger)
	addr := cfg.Admin.Host + ":" + strconv.Itoa(cfg.Admin.Port)

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Admin.GetReadTimeout(),
		WriteTimeout: cfg.Admin.GetWriteTimeout(),
	}
}

func startServer(srv *http.Server, logger *slog.Logger) {
	logger.Info("adminapi listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("adminapi server failed", "error", err)
	}
}

func shutdown(cancel context.CancelFunc, srv *http.Server, coord *coordinator.Coordinator, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("adminapi graceful shutdown failed", "error", err)
	}

	if err := coord.Stop(); err != nil {
		logger.Error("coordinator stop failed", "error", err)
	}

	cancel()
	logger.Info("shutdown complete")
}
