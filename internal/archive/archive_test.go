package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStoreReplaceOverwritesPriorArchive(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "overflow"))
	ctx := context.Background()

	first, err := a.StoreReplace(ctx, "clip1.mp4", []byte("old"))
	if err != nil {
		t.Fatalf("first StoreReplace: %v", err)
	}
	second, err := a.StoreReplace(ctx, "clip1.mp4", []byte("new"))
	if err != nil {
		t.Fatalf("second StoreReplace: %v", err)
	}
	if first != second {
		t.Errorf("replace should reuse the name: %s vs %s", first, second)
	}

	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("archive content = %q, want new", data)
	}

	entries, _ := os.ReadDir(a.Dir())
	if len(entries) != 1 {
		t.Errorf("expected a single archive file, found %d", len(entries))
	}
}

func TestStoreReplaceStripsPath(t *testing.T) {
	a := New(t.TempDir())
	dest, err := a.StoreReplace(context.Background(), "folder/sub/clip.mp4", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(dest) != a.Dir() {
		t.Errorf("archive escaped the overflow dir: %s", dest)
	}
}

func TestStoreUniqueNeverOverwrites(t *testing.T) {
	a := New(t.TempDir())
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	p1, err := a.StoreUnique("blob.bin", []byte("one"))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.StoreUnique("blob.bin", []byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatalf("unique archives collided: %s", p1)
	}

	if !strings.Contains(filepath.Base(p1), "20260314-150926") {
		t.Errorf("unique name missing timestamp: %s", p1)
	}
	if filepath.Ext(p1) != ".bin" {
		t.Errorf("unique name lost its extension: %s", p1)
	}

	one, _ := os.ReadFile(p1)
	two, _ := os.ReadFile(p2)
	if string(one) != "one" || string(two) != "two" {
		t.Error("unique archive contents mixed up")
	}
}

func TestArchiveCreatesDirOnDemand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "overflow")
	a := New(dir)
	if _, err := a.StoreUnique("f.png", []byte("x")); err != nil {
		t.Fatalf("StoreUnique: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("overflow dir not created: %v", err)
	}
}
