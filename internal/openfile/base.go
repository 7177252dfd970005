// Package openfile implements the three open-file strategies (spec §4.2-4.4,
// C4): full-file (writable, chunk-downloaded into a persistent source
// file), ring-buffer (read-only, sliding window over a fixed scratch
// file), and direct (read-only, in-memory ring). All three satisfy the
// OpenFile interface and share a `base` struct for handle tracking, sticky
// error accumulation, and idle-timeout bookkeeping — re-expressing the C++
// open_file_base inheritance hierarchy as Go composition (spec §9).
package openfile

import (
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// HandleData is opaque per-handle state owned by the syscall shim (spec §3
// Entity: OpenFileData). The core never interprets it.
type HandleData = interface{}

// OpenFile is the tagged-variant contract implemented by fullFile,
// ringBuffer, and direct (spec §9).
type OpenFile interface {
	APIPath() string
	SourcePath() string
	ChunkSize() uint64
	FileSize() uint64
	IsDirectory() bool
	IsModified() bool
	IsWriteSupported() bool
	IsComplete() bool

	AddHandle(handle uint64, data HandleData)
	RemoveHandle(handle uint64)
	HandleCount() int
	Handles() []uint64

	Read(offset uint64, size int) ([]byte, apierr.Code)
	Write(offset uint64, data []byte) (int, apierr.Code)
	Resize(newSize uint64) apierr.Code

	// Close tears down background goroutines. Returns true if this was
	// the transition from "has resources" to fully closed.
	Close() bool
	CanClose() bool

	GetAPIError() apierr.Code
	SetRemoved(v bool)
	IsRemoved() bool
	LastAccess() time.Time
	ReadStateSnapshot() []uint64
	SetAPIPath(p string)
}

// Deps bundles the collaborators every strategy needs, grounded on spec
// §9's guidance to pass the upload manager (and here, the provider and
// cache governor) as reference-like collaborators at construction time
// rather than storing a back-reference to any owning table.
type Deps struct {
	Provider provider.Provider
	Governor Governor
}

// Governor is the narrow slice of cachesize.Governor that openfile needs,
// kept as an interface here so this package does not import cachesize
// directly (avoids an import cycle with the facade wiring layer).
type Governor interface {
	Expand(n uint64) apierr.Code
	Shrink(n uint64)
	Free() uint64
}

// base holds the state shared by every strategy (spec §3 Entity: OpenFile).
type base struct {
	mu sync.RWMutex // protects everything below except lastAccess

	fsi             metadata.FilesystemItem
	chunkSize       uint64
	chunkTimeout    time.Duration
	handles         map[uint64]HandleData
	modified        bool
	removed         bool
	apiError        apierr.Code
	lastAccess      atomicTime

	stop provider.StopFlag

	deps Deps
}

func newBase(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps) base {
	b := base{
		fsi:          fsi,
		chunkSize:    chunkSize,
		chunkTimeout: chunkTimeout,
		handles:      make(map[uint64]HandleData),
		apiError:     apierr.Success,
		deps:         deps,
	}
	b.lastAccess.Store(time.Now())
	return b
}

func (b *base) APIPath() string { b.mu.RLock(); defer b.mu.RUnlock(); return b.fsi.APIPath }

func (b *base) SetAPIPath(p string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fsi.APIPath = p
}

func (b *base) SourcePath() string { b.mu.RLock(); defer b.mu.RUnlock(); return b.fsi.SourcePath }

func (b *base) ChunkSize() uint64 { return b.chunkSize }

func (b *base) IsDirectory() bool { b.mu.RLock(); defer b.mu.RUnlock(); return b.fsi.Directory }

func (b *base) IsModified() bool { b.mu.RLock(); defer b.mu.RUnlock(); return b.modified }

func (b *base) setModified(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modified = v
}

func (b *base) AddHandle(handle uint64, data HandleData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handles[handle] = data
}

func (b *base) RemoveHandle(handle uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, handle)
}

func (b *base) HandleCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

func (b *base) Handles() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uint64, 0, len(b.handles))
	for h := range b.handles {
		out = append(out, h)
	}
	return out
}

func (b *base) GetAPIError() apierr.Code {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.apiError
}

// setSticky applies the §4.2 precedence rule: a new code only overwrites an
// existing sticky error if it is strictly more severe.
func (b *base) setSticky(code apierr.Code) apierr.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	if apierr.MoreSevere(b.apiError, code) {
		b.apiError = code
	}
	return b.apiError
}

func (b *base) SetRemoved(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = v
}

func (b *base) IsRemoved() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.removed
}

func (b *base) resetTimeout() { b.lastAccess.Store(time.Now()) }

func (b *base) LastAccess() time.Time { return b.lastAccess.Load() }

// CanClose reports the base-level half of §4.5's idle-close predicate;
// strategies layer on their own "has active download" condition.
func (b *base) CanClose(idle bool) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.handles) > 0 {
		return false
	}
	if b.modified {
		return false
	}
	return idle
}

func (b *base) requestStop() { b.stop.Set() }
