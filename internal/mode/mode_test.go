package mode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	for _, ok := range []string{"s3", "smb", "local", " Local\n", "SMB"} {
		if _, err := Parse(ok); err != nil {
			t.Errorf("Parse(%q) failed: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "dropbox", "s 3"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) should have failed", bad)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecord(filepath.Join(dir, "state", "mode"))

	// Missing record yields the fallback
	m, err := rec.Read(Local)
	if err != nil {
		t.Fatalf("Read on missing record: %v", err)
	}
	if m != Local {
		t.Fatalf("expected fallback local, got %s", m)
	}

	if err := rec.Write(S3); err != nil {
		t.Fatalf("Write: %v", err)
	}
	m, err = rec.Read(Local)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m != S3 {
		t.Fatalf("expected s3, got %s", m)
	}

	// Overwrite
	if err := rec.Write(SMB); err != nil {
		t.Fatalf("Write overwrite: %v", err)
	}
	m, _ = rec.Read(Local)
	if m != SMB {
		t.Fatalf("expected smb after overwrite, got %s", m)
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	rec := NewRecord(filepath.Join(t.TempDir(), "mode"))
	if err := rec.Write(Mode("gdrive")); err == nil {
		t.Fatal("Write of invalid mode should fail")
	}
}

func TestRecordCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode")
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRecord(path).Read(Local); err == nil {
		t.Fatal("Read of corrupt record should fail")
	}
}
