// shotrelay backend watcher
//
// Watches one storage backend (s3, smb, or local) for new files, relays them
// to the consumer through the relay server, and deletes confirmed sources.
// Normally started by relayd; exits with a dedicated code when the consumer
// requests a different sync mode so the supervisor starts a replacement.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/config"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/mode"
	"github.com/shotrelay/shotrelay/internal/protocol"
	"github.com/shotrelay/shotrelay/internal/relay"
	"github.com/shotrelay/shotrelay/internal/remote"
	"github.com/shotrelay/shotrelay/internal/remote/localdir"
	"github.com/shotrelay/shotrelay/internal/remote/s3"
	"github.com/shotrelay/shotrelay/internal/remote/smb"
	"github.com/shotrelay/shotrelay/internal/supervisor"
	"github.com/shotrelay/shotrelay/internal/watcher"
)

func main() {
	modeFlag := flag.String("mode", "", "sync mode to run (s3, smb, local); defaults to SHOTRELAY_MODE")
	flag.Parse()

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

	modeName := *modeFlag
	if modeName == "" {
		modeName = cfg.DefaultMode
	}
	m, err := mode.Parse(modeName)
	if err != nil {
		fatalConfig("invalid mode", err)
	}
	if err := cfg.ValidateForMode(string(m)); err != nil {
		fatalConfig("mode configuration incomplete", err)
	}

	logging.Info("watcher starting...", zap.String("mode", string(m)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("shutting down...", zap.String("signal", sig.String()))
		cancel()
	}()

	backend, err := newBackend(ctx, cfg, m)
	if err != nil {
		fatalConfig("backend init failed", err)
	}
	defer backend.Close()

	client := relay.NewClient(cfg.SocketPath, protocol.RoleWatcher, string(m))
	go client.Run(ctx)
	defer client.Close()

	record := mode.NewRecord(filepath.Join(cfg.StateDir, "mode"))
	w := watcher.New(cfg, m, backend, client, record)

	err = w.Run(ctx)
	switch {
	case errors.Is(err, watcher.ErrModeSwitch):
		logging.Info("exiting for mode switch")
		logging.Sync()
		os.Exit(supervisor.ExitModeSwitch)
	case err != nil:
		logging.Fatal("watcher failed", zap.Error(err))
	}
	logging.Info("watcher stopped")
}

func newBackend(ctx context.Context, cfg *config.Config, m mode.Mode) (remote.Backend, error) {
	switch m {
	case mode.S3:
		return s3.New(ctx, s3.BackendConfig{
			Endpoint:     cfg.S3Endpoint,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			UsePathStyle: cfg.S3UsePath,
		})
	case mode.SMB:
		return smb.New(smb.Config{MountPath: cfg.SMBMountPath})
	default:
		return localdir.New(localdir.Config{RootPath: cfg.LocalWatchDir, CreateDirs: false})
	}
}

// fatalConfig reports a startup/configuration fault with the exit code the
// supervisor treats as non-transient.
func fatalConfig(msg string, err error) {
	logging.Error(msg, zap.Error(err))
	logging.Sync()
	os.Exit(supervisor.ExitConfigFault)
}
