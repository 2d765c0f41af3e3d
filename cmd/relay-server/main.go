// shotrelay relay server
//
// Hosts the Unix-socket relay hub that connects the downstream consumer with
// the active backend watcher. Normally started by relayd.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/config"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/relay"
	"github.com/shotrelay/shotrelay/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	hub := relay.NewHub(cfg.SocketPath)
	if err := hub.Listen(); err != nil {
		logging.Error("relay hub listen failed", zap.Error(err))
		logging.Sync()
		os.Exit(supervisor.ExitConfigFault)
	}
	go hub.Serve()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down...", zap.String("signal", sig.String()))
	hub.Close()
}
