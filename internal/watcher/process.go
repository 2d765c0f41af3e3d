package watcher

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/format"
	"github.com/shotrelay/shotrelay/internal/ledger"
	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
	"github.com/shotrelay/shotrelay/internal/protocol"
	"github.com/shotrelay/shotrelay/internal/remote"
)

// remoteDeleteTimeout bounds the post-confirmation delete, which runs outside
// the per-file context because confirmations arrive long after processing.
const remoteDeleteTimeout = 30 * time.Second

// processFile downloads one discovered file, runs it through the format
// pipeline, and carries out the resulting disposition.
func (w *Watcher) processFile(ctx context.Context, f remote.File) error {
	metrics.IncDownloadsInFlight()
	defer metrics.DecDownloadsInFlight()

	rc, _, err := w.backend.Download(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("download %s: %w", f.Name, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}

	prepared := w.pipeline.Prepare(ctx, f.Name, f.MimeType, data)

	switch prepared.Disposition {
	case format.Relay:
		return w.relayFile(f, prepared)
	case format.SkipArchive:
		return w.archiveFile(ctx, f, prepared, data)
	default: // format.SkipKeep
		metrics.RecordFileSkipped(prepared.SkipReason)
		logging.Info("file skipped, source kept",
			zap.String("file", f.Name),
			zap.String("reason", prepared.SkipReason))
		return nil
	}
}

// relayFile sends the prepared payload to the consumer and, when
// delete-on-confirm is enabled, tracks the delivery in the ledger. The
// remote copy is deleted only on confirmation; rejection and timeout keep it.
func (w *Watcher) relayFile(f remote.File, prepared format.Prepared) error {
	msg := protocol.NewScreenshot(prepared.Payload, prepared.OutName, f.ID)
	if err := w.client.Send(msg); err != nil {
		return fmt.Errorf("relay %s: %w", prepared.OutName, err)
	}
	metrics.RecordFileRelayed(len(prepared.Payload))
	logging.Info("file relayed",
		zap.String("file", prepared.OutName),
		zap.String("fileId", f.ID),
		zap.Int("bytes", len(prepared.Payload)))

	if !w.cfg.DeleteOnConfirm {
		return nil
	}

	timeout := w.cfg.AckTimeoutSmall
	if f.Size >= w.cfg.LargeFileBytes {
		timeout = w.cfg.AckTimeoutLarge
	}
	w.ledger.Track(f.ID, prepared.OutName, timeout, w.resolveDelivery)
	return nil
}

// resolveDelivery is the ledger callback: fired exactly once per tracked
// file.
func (w *Watcher) resolveDelivery(fileID, filename string, outcome ledger.Outcome) {
	switch outcome {
	case ledger.Confirmed:
		ctx, cancel := context.WithTimeout(context.Background(), remoteDeleteTimeout)
		defer cancel()
		if err := w.backend.Delete(ctx, fileID); err != nil {
			// Logged, not retried; the file stays remote until a manual
			// sweep or the consumer re-confirms a later relay of it.
			metrics.RecordRemoteDelete("error")
			logging.Warn("remote delete failed after confirmation",
				zap.String("file", filename),
				zap.String("fileId", fileID),
				zap.Error(err))
			return
		}
		metrics.RecordRemoteDelete("ok")
		logging.Info("remote copy deleted",
			zap.String("file", filename),
			zap.String("fileId", fileID))

	case ledger.Rejected:
		logging.Info("consumer rejected file, source kept",
			zap.String("file", filename),
			zap.String("fileId", fileID))

	case ledger.TimedOut:
		logging.Warn("no confirmation before timeout, source kept",
			zap.String("file", filename),
			zap.String("fileId", fileID))
	}
}

// archiveFile stores the original bytes in the overflow folder. For the wire
// skip reasons (video, too-large) the remote copy is deleted once the archive
// succeeds and the consumer is notified; other archived classes only log.
func (w *Watcher) archiveFile(ctx context.Context, f remote.File, prepared format.Prepared, data []byte) error {
	var (
		dest string
		err  error
	)
	if prepared.Replace {
		dest, err = w.archive.StoreReplace(ctx, prepared.OutName, data)
	} else {
		dest, err = w.archive.StoreUnique(prepared.OutName, data)
	}
	if err != nil {
		return fmt.Errorf("archive %s: %w", f.Name, err)
	}
	metrics.RecordFileSkipped(prepared.SkipReason)
	logging.Info("file archived",
		zap.String("file", f.Name),
		zap.String("reason", prepared.SkipReason),
		zap.String("archive", dest))

	if prepared.SkipReason != protocol.SkipReasonVideo && prepared.SkipReason != protocol.SkipReasonTooLarge {
		return nil
	}

	if err := w.backend.Delete(ctx, f.ID); err != nil {
		metrics.RecordRemoteDelete("error")
		logging.Warn("remote delete failed after archive",
			zap.String("file", f.Name),
			zap.Error(err))
	} else {
		metrics.RecordRemoteDelete("ok")
	}

	w.send(protocol.NewFileSkipped(f.Name, prepared.SkipReason))
	return nil
}
