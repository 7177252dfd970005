package facade

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// fakeProvider is an in-memory stand-in for a remote back end, keyed by
// api_path, good enough to drive the façade's Open/Read/Write/Rename/
// Mkdir/Rmdir paths without a network dependency.
type fakeProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
	dirs    map[string]bool
	rename  bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{objects: map[string][]byte{}, dirs: map[string]bool{}, rename: true}
}

func (p *fakeProvider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	return nil, apierr.Success
}

func (p *fakeProvider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.objects[apiPath]; ok {
		return provider.ObjectAttrs{APIPath: apiPath, Size: int64(len(data))}, apierr.Success
	}
	return provider.ObjectAttrs{}, apierr.NotFound
}

func (p *fakeProvider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[apiPath]
	if !ok {
		return 0, apierr.NotFound
	}
	if offset >= int64(len(data)) {
		return 0, apierr.Success
	}
	n := copy(buf, data[offset:])
	return n, apierr.Success
}

func (p *fakeProvider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return apierr.IoError
	}
	p.mu.Lock()
	p.objects[apiPath] = data
	p.mu.Unlock()
	return apierr.Success
}

func (p *fakeProvider) Mkdir(ctx context.Context, apiPath string) apierr.Code {
	p.mu.Lock()
	p.dirs[apiPath] = true
	p.mu.Unlock()
	return apierr.Success
}

func (p *fakeProvider) Rmdir(ctx context.Context, apiPath string) apierr.Code {
	p.mu.Lock()
	delete(p.dirs, apiPath)
	p.mu.Unlock()
	return apierr.Success
}

func (p *fakeProvider) Rename(ctx context.Context, from, to string) apierr.Code {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.objects[from]; ok {
		p.objects[to] = data
		delete(p.objects, from)
	}
	return apierr.Success
}

func (p *fakeProvider) SupportsRename() bool { return p.rename }

func newTestFacade(t *testing.T) (*Facade, *fakeProvider) {
	t.Helper()
	dbDir := filepath.Join(t.TempDir(), "db")
	meta, err := metadata.New(dbDir)
	if err != nil {
		t.Fatalf("metadata.New: %v", err)
	}
	prov := newFakeProvider()
	fc, err := New(meta, prov, Config{
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		MaxCacheBytes:  1 << 20,
		ChunkSize:      4096,
		ChunkTimeout:   50 * time.Millisecond,
		RingBufferSize: 5,
		MaxUploadCount: 2,
		ScanPeriod:     time.Hour,
		EvictionDelay:  time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(fc.Stop)
	return fc, prov
}

func TestOpenCreateWriteReadRoundTrips(t *testing.T) {
	fc, _ := newTestFacade(t)
	handle, code := fc.Open("/a.txt", OpenFlags{Create: true, Write: true})
	if code != apierr.Success {
		t.Fatalf("open failed: %v", code)
	}
	n, code := fc.Write("/a.txt", handle, 0, []byte("hello world"))
	if code != apierr.Success || n != 11 {
		t.Fatalf("write failed: n=%d code=%v", n, code)
	}
	data, code := fc.Read(handle, 0, 11)
	if code != apierr.Success || string(data) != "hello world" {
		t.Fatalf("read mismatch: %q code=%v", data, code)
	}
	if code := fc.Release(handle); code != apierr.Success {
		t.Fatalf("release failed: %v", code)
	}
}

func TestGetAttrReflectsWrittenSize(t *testing.T) {
	fc, _ := newTestFacade(t)
	handle, _ := fc.Open("/b.txt", OpenFlags{Create: true, Write: true})
	fc.Write("/b.txt", handle, 0, []byte("0123456789"))
	fc.Release(handle)

	attrs, code := fc.GetAttr("/b.txt")
	if code != apierr.Success {
		t.Fatalf("getattr failed: %v", code)
	}
	if attrs.Size != 10 {
		t.Fatalf("size = %d, want 10", attrs.Size)
	}
}

func TestMkdirRmdirRoundTrips(t *testing.T) {
	fc, _ := newTestFacade(t)
	if code := fc.Mkdir("/dir"); code != apierr.Success {
		t.Fatalf("mkdir failed: %v", code)
	}
	attrs, code := fc.GetAttr("/dir")
	if code != apierr.Success || !attrs.Directory {
		t.Fatalf("expected directory attrs, got %+v code=%v", attrs, code)
	}
	if code := fc.Rmdir("/dir"); code != apierr.Success {
		t.Fatalf("rmdir failed: %v", code)
	}
	if _, code := fc.GetAttr("/dir"); code != apierr.NotFound {
		t.Fatalf("expected NotFound after rmdir, got %v", code)
	}
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	fc, _ := newTestFacade(t)
	fc.Mkdir("/dir")
	handle, _ := fc.Open("/dir/f.txt", OpenFlags{Create: true, Write: true})
	fc.Release(handle)

	if code := fc.Rmdir("/dir"); code != apierr.DirectoryNotEmpty {
		t.Fatalf("code = %v, want DirectoryNotEmpty", code)
	}
}

func TestRenamePreservesMetadataAndOpenHandle(t *testing.T) {
	fc, _ := newTestFacade(t)
	handle, _ := fc.Open("/old.txt", OpenFlags{Create: true, Write: true})
	fc.Write("/old.txt", handle, 0, []byte("data"))

	if code := fc.Rename("/old.txt", "/new.txt", false); code != apierr.Success {
		t.Fatalf("rename failed: %v", code)
	}
	if _, code := fc.GetAttr("/old.txt"); code != apierr.NotFound {
		t.Fatalf("expected /old.txt gone, got %v", code)
	}
	if _, code := fc.GetAttr("/new.txt"); code != apierr.Success {
		t.Fatalf("expected /new.txt present, got %v", code)
	}

	n, code := fc.Write("/new.txt", handle, 4, []byte("!"))
	if code != apierr.Success || n != 1 {
		t.Fatalf("write through renamed handle failed: n=%d code=%v", n, code)
	}
	fc.Release(handle)
}

func TestUnlinkRemovesCatalogEntry(t *testing.T) {
	fc, _ := newTestFacade(t)
	handle, _ := fc.Open("/c.txt", OpenFlags{Create: true, Write: true})
	fc.Write("/c.txt", handle, 0, []byte("x"))
	fc.Release(handle)

	if code := fc.Unlink("/c.txt"); code != apierr.Success {
		t.Fatalf("unlink failed: %v", code)
	}
	if _, code := fc.GetAttr("/c.txt"); code != apierr.NotFound {
		t.Fatalf("expected NotFound after unlink, got %v", code)
	}
}

func TestReadDirListsChildren(t *testing.T) {
	fc, _ := newTestFacade(t)
	fc.Mkdir("/dir")
	h1, _ := fc.Open("/dir/a.txt", OpenFlags{Create: true, Write: true})
	fc.Release(h1)
	h2, _ := fc.Open("/dir/b.txt", OpenFlags{Create: true, Write: true})
	fc.Release(h2)

	children, code := fc.ReadDir("/dir")
	if code != apierr.Success {
		t.Fatalf("readdir failed: %v", code)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
}

func TestStatFSReportsBudgetAndItemCount(t *testing.T) {
	fc, _ := newTestFacade(t)
	handle, _ := fc.Open("/a.txt", OpenFlags{Create: true, Write: true})
	fc.Release(handle)

	stats := fc.StatFS()
	if stats.TotalBytes != 1<<20 {
		t.Fatalf("TotalBytes = %d, want %d", stats.TotalBytes, 1<<20)
	}
	if stats.ItemCount < 1 {
		t.Fatalf("ItemCount = %d, want >= 1", stats.ItemCount)
	}
}

func TestOpenMissingFileWithoutCreateFails(t *testing.T) {
	fc, _ := newTestFacade(t)
	if _, code := fc.Open("/missing.txt", OpenFlags{Read: true}); code != apierr.NotFound {
		t.Fatalf("code = %v, want NotFound", code)
	}
}
