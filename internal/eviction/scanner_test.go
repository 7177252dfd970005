package eviction

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
)

type fakeGovernor struct {
	shrunk uint64
}

func (g *fakeGovernor) Shrink(n uint64) { g.shrunk += n }

type fakeEvictor struct {
	allow map[string]bool
}

func (e *fakeEvictor) TryEvict(apiPath string) bool { return e.allow[apiPath] }

type fakeUploader struct {
	pending map[string]bool
}

func (u *fakeUploader) Pending(apiPath string) bool { return u.pending[apiPath] }

func TestScanOnceRemovesOrphanFile(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.New(t.TempDir())
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}

	orphan := filepath.Join(dir, "orphan.bin")
	if err := os.WriteFile(orphan, []byte("12345"), 0600); err != nil {
		t.Fatal(err)
	}

	gov := &fakeGovernor{}
	s := New(Config{CacheDir: dir, EvictionDelay: 0}, meta, gov, &fakeEvictor{}, &fakeUploader{})
	s.scanOnce()

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected orphan file to be removed")
	}
	if gov.shrunk != 5 {
		t.Fatalf("shrunk = %d, want 5", gov.shrunk)
	}
}

func TestScanOnceSkipsKnownFileWhenEvictorRefuses(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.New(t.TempDir())
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}
	src := filepath.Join(dir, "a.bin")
	os.WriteFile(src, []byte("data"), 0600)
	meta.CreateFile("/a.bin")
	meta.SetSourcePath("/a.bin", src)

	gov := &fakeGovernor{}
	s := New(Config{CacheDir: dir, EvictionDelay: 0}, meta, gov, &fakeEvictor{allow: map[string]bool{}}, &fakeUploader{})
	s.scanOnce()

	if _, err := os.Stat(src); err != nil {
		t.Fatal("expected known-but-refused file to survive")
	}
	if gov.shrunk != 0 {
		t.Fatalf("shrunk = %d, want 0", gov.shrunk)
	}
}

func TestScanOnceEvictsKnownFileWhenAllowed(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.New(t.TempDir())
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}
	src := filepath.Join(dir, "a.bin")
	os.WriteFile(src, []byte("data"), 0600)
	meta.CreateFile("/a.bin")
	meta.SetSourcePath("/a.bin", src)

	gov := &fakeGovernor{}
	s := New(Config{CacheDir: dir, EvictionDelay: 0}, meta, gov, &fakeEvictor{allow: map[string]bool{"/a.bin": true}}, &fakeUploader{})
	s.scanOnce()

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected evicted file to be removed")
	}
	if gov.shrunk != 4 {
		t.Fatalf("shrunk = %d, want 4", gov.shrunk)
	}
}

func TestScanOnceSkipsPendingUpload(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.New(t.TempDir())
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}
	src := filepath.Join(dir, "a.bin")
	os.WriteFile(src, []byte("data"), 0600)
	meta.CreateFile("/a.bin")
	meta.SetSourcePath("/a.bin", src)

	gov := &fakeGovernor{}
	s := New(Config{CacheDir: dir, EvictionDelay: 0}, meta, gov,
		&fakeEvictor{allow: map[string]bool{"/a.bin": true}},
		&fakeUploader{pending: map[string]bool{"/a.bin": true}})
	s.scanOnce()

	if _, err := os.Stat(src); err != nil {
		t.Fatal("expected file pending upload to survive eviction")
	}
}

func TestScanOnceRespectsEvictionDelay(t *testing.T) {
	dir := t.TempDir()
	meta, err := metadata.New(t.TempDir())
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}
	src := filepath.Join(dir, "a.bin")
	os.WriteFile(src, []byte("data"), 0600)
	meta.CreateFile("/a.bin")
	meta.SetSourcePath("/a.bin", src)

	gov := &fakeGovernor{}
	s := New(Config{CacheDir: dir, EvictionDelay: time.Hour}, meta, gov,
		&fakeEvictor{allow: map[string]bool{"/a.bin": true}}, &fakeUploader{})
	s.scanOnce()

	if _, err := os.Stat(src); err != nil {
		t.Fatal("expected file within the eviction delay to survive")
	}
}
