package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/mode"
)

// folderRef is the persisted record of the provisioned remote folder, so a
// restart reuses the same folder instead of creating a new one.
type folderRef struct {
	Backend  string `json:"backend"`
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
}

func (w *Watcher) folderRefPath() string {
	return filepath.Join(w.cfg.StateDir, "folder-"+string(w.mode)+".json")
}

// ensureFolder returns the folder the watcher should observe. Local mode
// watches the configured directory directly. Remote modes reuse the persisted
// folder when it still exists, otherwise find-or-create
// <root>/<prefix>-<user> and persist the result. Provisioning failure is
// fatal; the watcher never silently falls back to the backend root.
func (w *Watcher) ensureFolder(ctx context.Context) (string, error) {
	if w.mode == mode.Local {
		return "", nil
	}

	if ref, ok := w.loadFolderRef(); ok {
		if _, err := w.backend.List(ctx, ref.FolderID); err == nil {
			logging.Info("reusing provisioned folder",
				zap.String("folder", ref.FolderID))
			return ref.FolderID, nil
		}
		logging.Warn("persisted folder no longer listable, re-provisioning",
			zap.String("folder", ref.FolderID))
	}

	folderID, err := w.provisionFolder(ctx)
	if err != nil {
		return "", fmt.Errorf("provision watch folder: %w", err)
	}
	return folderID, nil
}

func (w *Watcher) provisionFolder(ctx context.Context) (string, error) {
	rootID, found, err := w.backend.FindFolder(ctx, w.cfg.RemoteRoot, "")
	if err != nil {
		return "", fmt.Errorf("find root folder %s: %w", w.cfg.RemoteRoot, err)
	}
	if !found {
		rootID, err = w.backend.CreateFolder(ctx, w.cfg.RemoteRoot, "")
		if err != nil {
			return "", fmt.Errorf("create root folder %s: %w", w.cfg.RemoteRoot, err)
		}
		logging.Info("created root folder", zap.String("folder", rootID))
	}

	name := w.cfg.FolderPrefix + "-" + w.cfg.UserIdentity
	folderID, found, err := w.backend.FindFolder(ctx, name, rootID)
	if err != nil {
		return "", fmt.Errorf("find folder %s: %w", name, err)
	}
	if !found {
		folderID, err = w.backend.CreateFolder(ctx, name, rootID)
		if err != nil {
			return "", fmt.Errorf("create folder %s: %w", name, err)
		}
		logging.Info("created watch folder", zap.String("folder", folderID))
	}

	w.saveFolderRef(folderRef{
		Backend:  w.backend.Type(),
		FolderID: folderID,
		Name:     name,
	})
	return folderID, nil
}

func (w *Watcher) loadFolderRef() (folderRef, bool) {
	data, err := os.ReadFile(w.folderRefPath())
	if err != nil {
		return folderRef{}, false
	}
	var ref folderRef
	if err := json.Unmarshal(data, &ref); err != nil {
		logging.Warn("corrupt folder reference, re-provisioning", zap.Error(err))
		return folderRef{}, false
	}
	if ref.Backend != w.backend.Type() || ref.FolderID == "" {
		return folderRef{}, false
	}
	return ref, true
}

// saveFolderRef persists the reference best-effort; failure only costs a
// re-provision on the next start.
func (w *Watcher) saveFolderRef(ref folderRef) {
	if err := os.MkdirAll(w.cfg.StateDir, 0755); err != nil {
		logging.Warn("state dir unavailable, folder reference not saved", zap.Error(err))
		return
	}
	data, _ := json.MarshalIndent(ref, "", "  ")
	if err := os.WriteFile(w.folderRefPath(), data, 0644); err != nil {
		logging.Warn("folder reference not saved", zap.Error(err))
	}
}
