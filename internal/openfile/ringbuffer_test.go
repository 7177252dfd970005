package openfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

func newTestRingBuffer(t *testing.T, content []byte, chunkSize uint64, ringSize int) (*ringBuffer, *fakeProvider) {
	t.Helper()
	dir := t.TempDir()
	fsi := metadata.FilesystemItem{APIPath: "/big.bin"}
	p := newFakeProvider(content)
	deps := Deps{Provider: p, Governor: &fakeGovernor{}}
	of, code := NewRingBuffer(fsi, chunkSize, time.Minute, deps, filepath.Join(dir, "scratch"), uint64(len(content)), ringSize)
	if code != apierr.Success {
		t.Fatalf("NewRingBuffer failed: %v", code)
	}
	return of.(*ringBuffer), p
}

func TestRingBufferReadWithinInitialWindow(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	r, _ := newTestRingBuffer(t, content, 10, 5)

	got, code := r.Read(0, 20)
	if code != apierr.Success {
		t.Fatalf("read failed: %v", code)
	}
	for i, b := range got {
		if b != content[i] {
			t.Fatalf("byte %d = %d, want %d", i, b, content[i])
		}
	}
}

func TestRingBufferWriteNotSupported(t *testing.T) {
	r, _ := newTestRingBuffer(t, make([]byte, 100), 10, 5)
	if _, code := r.Write(0, []byte("x")); code != apierr.NotSupported {
		t.Fatalf("code = %v, want NotSupported", code)
	}
}

func TestRingBufferForwardSlideInvalidatesVacatedChunks(t *testing.T) {
	content := make([]byte, 200)
	for i := range content {
		content[i] = byte(i % 256)
	}
	// chunkSize 10, ringSize 5 -> window covers chunks [0,4] initially.
	r, p := newTestRingBuffer(t, content, 10, 5)

	if _, code := r.Read(0, 10); code != apierr.Success {
		t.Fatalf("read failed: %v", code)
	}
	readsAfterFirst := p.reads

	// Read chunk 10 (far beyond initial window): window must slide and
	// the old chunk 0 data must no longer satisfy a later read of it
	// without a re-fetch.
	if _, code := r.Read(100, 10); code != apierr.Success {
		t.Fatalf("read at offset 100 failed: %v", code)
	}
	r.mu.RLock()
	begin, end := r.winBegin, r.winEnd
	r.mu.RUnlock()
	if !(10 >= begin && 10 <= end) {
		t.Fatalf("window [%d,%d] should contain chunk 10 after sliding forward", begin, end)
	}

	if _, code := r.Read(0, 10); code != apierr.Success {
		t.Fatalf("re-read at offset 0 failed: %v", code)
	}
	if p.reads <= readsAfterFirst {
		t.Fatal("expected a re-fetch after the window slid away from and back to chunk 0")
	}
}

func TestRingBufferIsCompleteFalseUntilWholeFileSeen(t *testing.T) {
	content := make([]byte, 50)
	r, _ := newTestRingBuffer(t, content, 10, 5)
	if r.IsComplete() {
		t.Fatal("should not be complete before any read")
	}
	if _, code := r.Read(0, 50); code != apierr.Success {
		t.Fatalf("read failed: %v", code)
	}
	if !r.IsComplete() {
		t.Fatal("expected complete after reading the entire (small) file")
	}
}
