/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the KPI dashboard server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration (file + KPI_* env)
  2. Build the zap logger
  3. Open the SQLite store and seed quarters and months
  4. Create the engine, API handler and rollup scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     YAML configuration file (optional)
  -log-level  Overrides logging.level

ENVIRONMENT:
  Every setting can be overridden as KPI_<SECTION>_<KEY>, for example
  KPI_DATABASE_PATH=":memory:" or KPI_SERVER_ADDRESS=":3000".

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollup scheduler
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ethstat/kpi-dashboard/api"
	"github.com/ethstat/kpi-dashboard/config"
	"github.com/ethstat/kpi-dashboard/kpi"
	"github.com/ethstat/kpi-dashboard/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		conf.Logging.Level = *logLevel
	}

	logger, err := config.NewLogger(conf.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(conf, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(conf *config.Configuration, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(conf.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	scope, err := conf.Rollup.ParseScope()
	if err != nil {
		return err
	}
	engine := kpi.NewEngine(store, logger.Named("kpi"))
	engine.RollupScope = scope
	engine.MinDailySamples = conf.Rollup.MinDailySamples

	if err := engine.SeedReference(context.Background()); err != nil {
		return fmt.Errorf("seed reference rows: %w", err)
	}

	scheduler := api.NewRollupScheduler(engine, logger)
	scheduler.Enabled = conf.Rollup.ReconcileEnabled
	scheduler.CheckInterval = conf.Rollup.ReconcileInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(engine, logger.Named("api"))
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         conf.Server.Address,
		Handler:      api.NewRouter(handler, conf.Server.AllowedOrigins),
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
		IdleTimeout:  conf.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", conf.Server.Address),
			zap.String("database", conf.Database.Path),
			zap.String("rollup_scope", string(scope)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
