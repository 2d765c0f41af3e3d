// Package watcher implements a backend watcher session: discover new files on
// one storage backend, run them through the format pipeline, relay the
// results to the consumer, and resolve each delivery through the ledger.
package watcher

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/archive"
	"github.com/shotrelay/shotrelay/internal/config"
	"github.com/shotrelay/shotrelay/internal/dedup"
	"github.com/shotrelay/shotrelay/internal/format"
	"github.com/shotrelay/shotrelay/internal/ledger"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/mode"
	"github.com/shotrelay/shotrelay/internal/protocol"
	"github.com/shotrelay/shotrelay/internal/relay"
	"github.com/shotrelay/shotrelay/internal/remote"
)

// ErrModeSwitch is returned by Run when the consumer requested a different
// sync mode. The process should exit with the mode-switch code so the
// supervisor starts a replacement watcher.
var ErrModeSwitch = errors.New("sync mode switch requested")

// sender is the slice of the relay client the watcher needs; tests substitute
// a recording implementation.
type sender interface {
	Send(protocol.Message) error
}

// Watcher is one backend watch session. All collaborators are injected so
// several instances can run in-process.
type Watcher struct {
	cfg     *config.Config
	mode    mode.Mode
	backend remote.Backend
	client  sender
	inbox   <-chan protocol.Message
	record  *mode.Record

	ledger   *ledger.Ledger
	known    *dedup.KnownSet
	pipeline *format.Pipeline
	archive  *archive.Archive

	// ioSem bounds concurrent download/conversion work for the
	// event-driven discovery path; polling batches carry their own bound.
	ioSem chan struct{}

	folderID string
	realtime atomic.Bool
}

// New wires a watcher for the given mode and backend. The relay client is
// passed as its send half plus its inbox so tests can fake both sides.
func New(cfg *config.Config, m mode.Mode, backend remote.Backend, client *relay.Client, record *mode.Record) *Watcher {
	return newWatcher(cfg, m, backend, client, client.Inbox(), record)
}

func newWatcher(cfg *config.Config, m mode.Mode, backend remote.Backend, client sender, inbox <-chan protocol.Message, record *mode.Record) *Watcher {
	w := &Watcher{
		cfg:      cfg,
		mode:     m,
		backend:  backend,
		client:   client,
		inbox:    inbox,
		record:   record,
		ledger:   ledger.New(),
		known:    dedup.NewKnownSet(cfg.MaxKnownFiles),
		pipeline: format.NewPipeline(cfg.MaxAnimatedBytes, cfg.MaxImageDim, cfg.JpegQuality),
		archive:  archive.New(cfg.OverflowDir),
		ioSem:    make(chan struct{}, cfg.MaxInFlight),
	}
	w.realtime.Store(true)
	return w
}

// Run provisions the watched folder, starts discovery for the session's
// mode, and handles consumer control messages until ctx is cancelled or a
// mode switch is requested.
func (w *Watcher) Run(ctx context.Context) error {
	folderID, err := w.ensureFolder(ctx)
	if err != nil {
		return err
	}
	w.folderID = folderID

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	discoveryDone := make(chan error, 1)
	go func() {
		switch w.mode {
		case mode.Local:
			discoveryDone <- w.runLocal(ctx)
		default:
			discoveryDone <- w.runPolling(ctx)
		}
	}()

	logging.Info("watcher running",
		zap.String("mode", string(w.mode)),
		zap.String("backend", w.backend.Type()),
		zap.String("folder", w.folderID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-discoveryDone:
			return err
		case msg, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.handleControl(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handleControl processes one consumer-originated message. A mode switch
// request returns ErrModeSwitch after the record is written; everything else
// returns nil.
func (w *Watcher) handleControl(ctx context.Context, msg protocol.Message) error {
	switch msg.Type {
	case protocol.MsgScreenshotReceived:
		if !w.ledger.Confirm(msg.FileRef, msg.Filename) {
			logging.Debug("confirmation for untracked file",
				zap.String("fileRef", msg.FileRef),
				zap.String("filename", msg.Filename))
		}

	case protocol.MsgScreenshotFailed:
		if !w.ledger.Reject(msg.FileRef, msg.Filename) {
			logging.Debug("rejection for untracked file",
				zap.String("fileRef", msg.FileRef),
				zap.String("filename", msg.Filename))
		}

	case protocol.MsgStartRealtime:
		w.realtime.Store(true)
		logging.Info("realtime discovery enabled")

	case protocol.MsgStopRealtime:
		// In-flight files and ledger timers are left to finish; only new
		// discovery stops.
		w.realtime.Store(false)
		logging.Info("realtime discovery paused")

	case protocol.MsgManualSync:
		go w.manualSync(ctx)

	case protocol.MsgSwitchSyncMode:
		requested, err := mode.Parse(msg.Mode)
		if err != nil {
			logging.Warn("ignoring switch to unknown mode", zap.String("mode", msg.Mode))
			return nil
		}
		if requested == w.mode {
			logging.Info("already in requested mode", zap.String("mode", msg.Mode))
			return nil
		}
		if err := w.record.Write(requested); err != nil {
			logging.Error("mode record write failed", zap.Error(err))
			return nil
		}
		logging.Info("mode switch recorded, terminating for replacement",
			zap.String("from", string(w.mode)),
			zap.String("to", string(requested)))
		return ErrModeSwitch

	default:
		logging.Debug("unhandled relay message", zap.String("type", msg.Type))
	}
	return nil
}

// manualSync sweeps the whole watched folder once, ignoring the known set,
// and reports a summary to the consumer.
func (w *Watcher) manualSync(ctx context.Context) {
	logging.Info("manual sync started", zap.String("folder", w.folderID))

	files, err := w.backend.List(ctx, w.folderID)
	if err != nil {
		logging.Error("manual sync listing failed", zap.Error(err))
		w.send(protocol.NewManualSyncComplete(protocol.SyncSummary{
			Errors: []string{err.Error()},
		}))
		return
	}

	media := filterMedia(files)
	summary := protocol.SyncSummary{Total: len(media)}
	for _, f := range media {
		if err := w.processFile(ctx, f); err != nil {
			summary.Errors = append(summary.Errors, f.Name+": "+err.Error())
			continue
		}
		summary.Succeeded++
	}

	logging.Info("manual sync complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("total", summary.Total),
		zap.Int("errors", len(summary.Errors)))
	w.send(protocol.NewManualSyncComplete(summary))
}

// send forwards a message to the consumer, logging rather than propagating
// transport errors; delivery guarantees live in the ledger.
func (w *Watcher) send(msg protocol.Message) {
	if err := w.client.Send(msg); err != nil {
		logging.Warn("relay send failed",
			zap.String("type", msg.Type),
			zap.Error(err))
	}
}

func filterMedia(files []remote.File) []remote.File {
	media := files[:0:0]
	for _, f := range files {
		if format.IsMediaFile(f.Name, f.MimeType) {
			media = append(media, f)
		}
	}
	return media
}
