// Package smb provides a storage backend on an SMB/CIFS network share. The
// share must be pre-mounted on the OS (mount.cifs or fstab); the backend
// delegates all I/O to the local directory backend at the mount path.
package smb

import (
	"fmt"

	"github.com/shotrelay/shotrelay/internal/remote/localdir"
)

// Config holds SMB backend settings. Only MountPath is used for I/O.
type Config struct {
	MountPath string
}

// Backend wraps a localdir backend at the SMB mount point.
type Backend struct {
	*localdir.Backend
}

// New creates an SMB backend for a pre-mounted share.
func New(cfg Config) (*Backend, error) {
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("mount path is required")
	}
	lb, err := localdir.New(localdir.Config{RootPath: cfg.MountPath, CreateDirs: false})
	if err != nil {
		return nil, fmt.Errorf("smb backend at %s: %w", cfg.MountPath, err)
	}
	return &Backend{Backend: lb}, nil
}

// Type returns "smb".
func (b *Backend) Type() string { return "smb" }
