// Package remote defines the contract the sync engine uses to talk to a
// remote storage backend. The engine only consumes these primitives; each
// backend implementation lives in a subpackage.
package remote

import (
	"context"
	"io"
	"time"
)

// File describes a remote file as returned by a folder listing.
// Identity is ID (an opaque backend key); a File is immutable once listed.
type File struct {
	ID          string
	Name        string
	MimeType    string
	Size        int64
	CreatedTime time.Time
}

// Backend is the interface for remote storage providers.
type Backend interface {
	// List returns the files directly under the given folder.
	List(ctx context.Context, folderID string) ([]File, error)

	// Download opens the content of a file by ID.
	Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error)

	// Delete removes a file by ID. Deleting a file that no longer exists
	// is not an error.
	Delete(ctx context.Context, fileID string) error

	// CreateFolder creates a folder under parentID and returns its ID.
	// parentID "" means the backend root.
	CreateFolder(ctx context.Context, name, parentID string) (string, error)

	// FindFolder looks up a folder by name under parentID.
	FindFolder(ctx context.Context, name, parentID string) (id string, found bool, err error)

	// Type returns the backend type identifier ("s3", "smb", "localdir").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// IncrementalLister is implemented by backends that can narrow a listing to
// files created after a cursor, avoiding a full re-scan every cycle.
type IncrementalLister interface {
	// ListSince returns files under folderID created after the cursor.
	// A zero cursor is equivalent to List.
	ListSince(ctx context.Context, folderID string, cursor time.Time) ([]File, error)
}
