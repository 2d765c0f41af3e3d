// Package localdir provides a directory-rooted storage backend. It backs the
// local filesystem sync mode and, via the smb package, pre-mounted network
// shares. File IDs are slash-separated paths relative to the root.
package localdir

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shotrelay/shotrelay/internal/remote"
)

// Config holds local directory backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Backend implements remote.Backend on a local directory tree.
type Backend struct {
	rootPath   string
	createDirs bool
}

// New creates a backend rooted at cfg.RootPath.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{rootPath: cfg.RootPath, createDirs: cfg.CreateDirs}, nil
}

func (b *Backend) fullPath(id string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(id))
}

// List returns the regular files directly under folderID, oldest first.
func (b *Backend) List(_ context.Context, folderID string) ([]remote.File, error) {
	dir := b.fullPath(folderID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folderID, err)
	}

	var files []remote.File
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		id := entry.Name()
		if folderID != "" {
			id = strings.TrimSuffix(folderID, "/") + "/" + entry.Name()
		}
		files = append(files, remote.File{
			ID:          id,
			Name:        entry.Name(),
			MimeType:    mime.TypeByExtension(filepath.Ext(entry.Name())),
			Size:        info.Size(),
			CreatedTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedTime.Before(files[j].CreatedTime)
	})
	return files, nil
}

// Download opens a file's content.
func (b *Backend) Download(_ context.Context, fileID string) (io.ReadCloser, int64, error) {
	f, err := os.Open(b.fullPath(fileID))
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", fileID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", fileID, err)
	}
	return f, info.Size(), nil
}

// Delete removes a file. A missing file is treated as already deleted.
func (b *Backend) Delete(_ context.Context, fileID string) error {
	err := os.Remove(b.fullPath(fileID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return nil
}

// CreateFolder creates a directory under parentID and returns its ID.
func (b *Backend) CreateFolder(_ context.Context, name, parentID string) (string, error) {
	id := name
	if parentID != "" {
		id = strings.TrimSuffix(parentID, "/") + "/" + name
	}
	if err := os.MkdirAll(b.fullPath(id), 0755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", id, err)
	}
	return id, nil
}

// FindFolder looks up a directory by name under parentID.
func (b *Backend) FindFolder(_ context.Context, name, parentID string) (string, bool, error) {
	id := name
	if parentID != "" {
		id = strings.TrimSuffix(parentID, "/") + "/" + name
	}
	info, err := os.Stat(b.fullPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat folder %s: %w", id, err)
	}
	if !info.IsDir() {
		return "", false, nil
	}
	return id, true, nil
}

// Type returns "localdir".
func (b *Backend) Type() string { return "localdir" }

// Close is a no-op for directory backends.
func (b *Backend) Close() error { return nil }

// Root returns the backend's root directory.
func (b *Backend) Root() string { return b.rootPath }
