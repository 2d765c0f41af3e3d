// shotrelay daemon
//
// Supervises the relay server and the active backend watcher as child
// processes, serves Prometheus metrics, and replaces the watcher when the
// shared mode record changes.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/config"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/mode"
	"github.com/shotrelay/shotrelay/internal/supervisor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	defaultMode, err := mode.Parse(cfg.DefaultMode)
	if err != nil {
		logging.Fatal("invalid default mode", zap.Error(err))
	}

	logging.Info("shotrelay daemon starting...",
		zap.String("mode", string(defaultMode)),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("shutting down...", zap.String("signal", sig.String()))
		cancel()
	}()

	record := mode.NewRecord(filepath.Join(cfg.StateDir, "mode"))
	sup := supervisor.New(supervisor.ExecSpawn, record, defaultMode)
	if err := sup.Run(ctx); err != nil {
		metricsServer.Close()
		logging.Fatal("supervisor failed", zap.Error(err))
	}

	metricsServer.Close()
	logging.Info("shotrelay daemon stopped")
}
