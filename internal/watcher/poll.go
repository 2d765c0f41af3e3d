package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/remote"
)

// cursorBuffer is subtracted from each cycle's start time before it becomes
// the next incremental-listing cursor, so clock skew between the engine and
// the backend cannot hide a freshly created file.
const cursorBuffer = 10 * time.Second

// runPolling discovers files by listing the watched folder every poll
// interval. Used for the s3 and smb modes.
func (w *Watcher) runPolling(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var cursor time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !w.realtime.Load() {
			continue
		}
		cursor = w.pollCycle(ctx, cursor)
	}
}

// pollCycle runs one discovery pass and returns the cursor for the next one.
// A failed listing keeps the old cursor so nothing is skipped.
func (w *Watcher) pollCycle(ctx context.Context, cursor time.Time) time.Time {
	cycleStart := time.Now()

	files, err := w.listFiles(ctx, cursor)
	if err != nil {
		logging.Warn("poll listing failed", zap.Error(err))
		metrics.RecordPollCycle(w.backend.Type(), "error")
		return cursor
	}
	metrics.RecordPollCycle(w.backend.Type(), "ok")

	var fresh []remote.File
	for _, f := range filterMedia(files) {
		if w.known.Contains(f.ID) {
			continue
		}
		fresh = append(fresh, f)
	}

	next := cycleStart.Add(-cursorBuffer)
	if len(fresh) > 0 {
		metrics.RecordFilesDiscovered(len(fresh))
		logging.Info("discovered new files",
			zap.Int("count", len(fresh)),
			zap.String("backend", w.backend.Type()))
		// The cursor never moves past a file that did not complete, so an
		// incremental listing cannot hide a failed or deferred file from
		// the retry on the next cycle.
		if oldest, ok := w.processBatch(ctx, fresh); ok {
			if clamped := oldest.Add(-time.Second); clamped.Before(next) {
				next = clamped
			}
		}
	}
	return next
}

// listFiles narrows the listing with the cursor when the backend supports
// incremental listing; otherwise it is a full list and the known-set diff
// does the narrowing.
func (w *Watcher) listFiles(ctx context.Context, cursor time.Time) ([]remote.File, error) {
	if lister, ok := w.backend.(remote.IncrementalLister); ok && !cursor.IsZero() {
		return lister.ListSince(ctx, w.folderID, cursor)
	}
	return w.backend.List(ctx, w.folderID)
}

// processBatch relays a batch of discovered files, oldest first, with bounded
// concurrency. A per-file failure logs, forgets the ID so a later cycle
// retries it, and never aborts the rest of the batch. Files still in flight
// when the batch timeout expires are cancelled; completed ones stand.
// It returns the creation time of the oldest file that did not complete
// (failed or deferred), so the caller can hold the listing cursor back.
func (w *Watcher) processBatch(ctx context.Context, files []remote.File) (time.Time, bool) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedTime.Before(files[j].CreatedTime)
	})

	batchCtx, cancel := context.WithTimeout(ctx, w.cfg.BatchTimeout)
	defer cancel()

	var (
		mu        sync.Mutex
		oldest    time.Time
		unhandled bool
	)
	noteUnhandled := func(t time.Time) {
		mu.Lock()
		if !unhandled || t.Before(oldest) {
			oldest = t
		}
		unhandled = true
		mu.Unlock()
	}

	sem := make(chan struct{}, w.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, f := range files {
		select {
		case sem <- struct{}{}:
		case <-batchCtx.Done():
			logging.Warn("batch timed out, remaining files deferred to next cycle",
				zap.Int("deferred", len(files)-i),
				zap.Int("total", len(files)))
			for _, rest := range files[i:] {
				noteUnhandled(rest.CreatedTime)
			}
			wg.Wait()
			mu.Lock()
			defer mu.Unlock()
			return oldest, unhandled
		}

		w.known.Add(f.ID)
		wg.Add(1)
		go func(f remote.File) {
			defer wg.Done()
			defer func() { <-sem }()

			fileCtx, cancel := context.WithTimeout(batchCtx, w.cfg.FileTimeout)
			defer cancel()

			if err := w.processFile(fileCtx, f); err != nil {
				logging.Warn("file processing failed, will retry next cycle",
					zap.String("file", f.Name),
					zap.String("fileId", f.ID),
					zap.Error(err))
				w.known.Remove(f.ID)
				noteUnhandled(f.CreatedTime)
			}
		}(f)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return oldest, unhandled
}
