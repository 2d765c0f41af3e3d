// Package archive stores files that cannot be relayed in the local overflow
// folder.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shotrelay/shotrelay/internal/retry"
)

// Archive writes originals into a fixed per-installation overflow folder,
// created on demand.
type Archive struct {
	dir string

	// now is swappable for tests of unique naming.
	now func() time.Time
}

// New creates an archive rooted at dir.
func New(dir string) *Archive {
	return &Archive{dir: dir, now: time.Now}
}

// Dir returns the overflow folder path.
func (a *Archive) Dir() string { return a.dir }

// StoreReplace archives data under exactly name, replacing any prior archive
// with the same name. Used for video and animated-image archives, where a
// re-relayed file should supersede its earlier copy. The prior file is
// deleted first, with a short retry in case the delete has not settled.
func (a *Archive) StoreReplace(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("create overflow dir: %w", err)
	}

	dest := filepath.Join(a.dir, filepath.Base(name))

	cfg := retry.Config{MaxAttempts: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}
	err := retry.Do(ctx, cfg, func() error {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return retry.Retryable(fmt.Errorf("remove prior archive %s: %w", dest, err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := a.write(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// StoreUnique archives data under a timestamp-disambiguated name so that an
// unrelated same-named file is never silently overwritten.
func (a *Archive) StoreUnique(name string, data []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("create overflow dir: %w", err)
	}

	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := a.now().Format("20060102-150405.000")
	dest := filepath.Join(a.dir, fmt.Sprintf("%s-%s%s", stem, stamp, ext))

	// Timestamps collide when two archives land in the same millisecond.
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(a.dir, fmt.Sprintf("%s-%s-%d%s", stem, stamp, i, ext))
	}

	if err := a.write(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// write lands data atomically (temp file then rename).
func (a *Archive) write(dest string, data []byte) error {
	tmp, err := os.CreateTemp(a.dir, ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("create archive temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close archive temp: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename archive to %s: %w", dest, err)
	}
	return nil
}
