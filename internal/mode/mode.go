// Package mode defines the sync modes and the shared on-disk mode record.
//
// The mode record is the single source of truth for which backend watcher
// should be running. It is read by the supervisor every few seconds and
// written by the active watcher when the consumer requests a switch.
// Last-writer-wins is acceptable: mode switches are rare, human-triggered
// events.
package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode identifies a sync backend.
type Mode string

const (
	S3    Mode = "s3"
	SMB   Mode = "smb"
	Local Mode = "local"
)

// Parse validates a mode string.
func Parse(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case S3:
		return S3, nil
	case SMB:
		return SMB, nil
	case Local:
		return Local, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want s3, smb, or local)", s)
	}
}

// Record is the shared mode record file.
type Record struct {
	path string
}

// NewRecord returns a record stored at the given path.
func NewRecord(path string) *Record {
	return &Record{path: path}
}

// Read returns the recorded mode, or fallback if the record does not exist.
func (r *Record) Read(fallback Mode) (Mode, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return "", fmt.Errorf("read mode record: %w", err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("mode record %s: %w", r.path, err)
	}
	return m, nil
}

// Write atomically replaces the recorded mode (temp file then rename, so a
// concurrent reader never sees a partial value).
func (r *Record) Write(m Mode) error {
	if _, err := Parse(string(m)); err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mode-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp mode record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(string(m) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write mode record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp mode record: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace mode record: %w", err)
	}
	return nil
}

// Path returns the record's file path.
func (r *Record) Path() string {
	return r.path
}
