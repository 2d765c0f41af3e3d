package watcher

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/dedup"
	"github.com/shotrelay/shotrelay/internal/format"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/remote"
)

// runLocal discovers files through filesystem events on the watched
// directory. A file is processed only once writes have gone quiet for the
// stability window, and duplicate create/write event bursts are collapsed by
// the fingerprint cache.
func (w *Watcher) runLocal(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.LocalWatchDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.LocalWatchDir, err)
	}
	logging.Info("watching directory", zap.String("dir", w.cfg.LocalWatchDir))

	fingerprints := dedup.NewFingerprintCache(w.cfg.FingerprintTTL)
	go w.sweepFingerprints(ctx, fingerprints)

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)

	stop := func(path string) {
		mu.Lock()
		if t, ok := pending[path]; ok {
			t.Stop()
			delete(pending, path)
		}
		mu.Unlock()
	}

	// Each write resets the file's stability timer; the file is handed to
	// processing only after a full quiet window.
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok {
			t.Reset(w.cfg.WriteStability)
			return
		}
		pending[path] = time.AfterFunc(w.cfg.WriteStability, func() {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			w.handleStableFile(ctx, path, fingerprints)
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.realtime.Load() {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !format.IsMediaFile(name, "") {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				stop(event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// handleStableFile runs a quiesced file through the standard processing path.
func (w *Watcher) handleStableFile(ctx context.Context, path string, fingerprints *dedup.FingerprintCache) {
	info, err := os.Stat(path)
	if err != nil {
		// Gone before the stability window closed.
		return
	}
	if info.IsDir() {
		return
	}

	name := filepath.Base(path)
	fp := dedup.Fingerprint(name, info.Size(), info.ModTime())
	if fingerprints.Seen(fp) {
		logging.Debug("duplicate filesystem event ignored", zap.String("file", name))
		return
	}

	// Stability timers fire on their own goroutines; the semaphore keeps a
	// burst of quiesced files within the same in-flight bound as polling.
	select {
	case w.ioSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-w.ioSem }()

	metrics.RecordFilesDiscovered(1)
	f := remote.File{
		ID:          name, // backend is rooted at the watch dir
		Name:        name,
		MimeType:    mime.TypeByExtension(filepath.Ext(name)),
		Size:        info.Size(),
		CreatedTime: info.ModTime(),
	}

	fileCtx, cancel := context.WithTimeout(ctx, w.cfg.FileTimeout)
	defer cancel()
	if err := w.processFile(fileCtx, f); err != nil {
		// Forget the fingerprint so the next event for this file retries
		// instead of waiting out the TTL.
		fingerprints.Forget(fp)
		logging.Warn("file processing failed",
			zap.String("file", name),
			zap.Error(err))
	}
}

func (w *Watcher) sweepFingerprints(ctx context.Context, cache *dedup.FingerprintCache) {
	ticker := time.NewTicker(w.cfg.FingerprintTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := cache.Sweep(); removed > 0 {
				logging.Debug("fingerprint cache swept", zap.Int("removed", removed))
			}
		}
	}
}
