// Package filetable implements the open-file table (spec §3/§4.5, C5):
// handle allocation, strategy selection between the three openfile
// variants, rename/remove serialization against open files, and the
// idle-close scanner that reclaims strategies nobody is using. Grounded on
// the teacher's internal/fuse.FileSystem openFiles map[uint64]*OpenFile +
// nextHandle pattern, generalized behind one outer mutex per spec §5's
// locking discipline.
package filetable

import (
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/openfile"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// Uploader is the narrow slice of the upload manager (C6) the table needs:
// queuing a file for upload when the last writable handle on a modified
// file closes.
type Uploader interface {
	Enqueue(apiPath, sourcePath string)
}

// Config bundles the strategy-selection thresholds, all sourced from
// internal/config (spec §6 config.json schema).
type Config struct {
	ChunkSize      uint64
	ChunkTimeout   time.Duration
	RingBufferSize int // chunks
	CacheDir       string
}

type entry struct {
	of       openfile.OpenFile
	refCount int
}

// Table is the single owner of every live OpenFile. Every method acquires
// the outer mutex for its bookkeeping; calls into the OpenFile itself
// (Read/Write/Resize) happen outside that lock so a slow provider round
// trip on one file never stalls operations on another (spec §5).
type Table struct {
	mu           sync.Mutex
	entries      map[string]*entry // api_path -> entry
	handleOwner  map[uint64]string
	nextHandle   uint64
	deps         openfile.Deps
	meta         *metadata.Store
	cfg          Config
	uploader     Uploader
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

func New(meta *metadata.Store, deps openfile.Deps, cfg Config, uploader Uploader) *Table {
	t := &Table{
		entries:     make(map[string]*entry),
		handleOwner: make(map[uint64]string),
		deps:        deps,
		meta:        meta,
		cfg:         cfg,
		uploader:    uploader,
		stopCh:      make(chan struct{}),
	}
	t.wg.Add(1)
	go t.runIdleCloser()
	return t
}

func (t *Table) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// openStrategy implements §4.5's precedence table:
//  1. write intent, a directory, a zero-size file, or any file that fits
//     the free-cache budget gets the writable full-file strategy — this is
//     the default, including for read-only opens that happen to fit.
//  2. otherwise, a file that still fits the ring buffer's bounded
//     ring_size*chunk_size scratch window gets the ring-buffer strategy.
//  3. anything too large even for that scratch window falls back to the
//     in-memory direct strategy as a last resort.
func (t *Table) openStrategy(fsi metadata.FilesystemItem, writeIntent bool) (openfile.OpenFile, apierr.Code) {
	size := uint64(fsi.Size)

	if writeIntent || fsi.Directory || size == 0 || size <= t.deps.Governor.Free() {
		return openfile.NewFullFile(fsi, t.cfg.ChunkSize, t.cfg.ChunkTimeout, t.deps, size, nil)
	}

	ringScratch := uint64(t.cfg.RingBufferSize) * t.cfg.ChunkSize
	if size <= ringScratch {
		scratchPath := t.cfg.CacheDir + "/ring-" + sanitizeHandleName(fsi.APIPath)
		return openfile.NewRingBuffer(fsi, t.cfg.ChunkSize, t.cfg.ChunkTimeout, t.deps, scratchPath, size, t.cfg.RingBufferSize)
	}

	return openfile.NewDirect(fsi, t.cfg.ChunkSize, t.cfg.ChunkTimeout, t.deps, size, t.cfg.RingBufferSize)
}

func sanitizeHandleName(apiPath string) string {
	out := make([]byte, 0, len(apiPath))
	for i := 0; i < len(apiPath); i++ {
		c := apiPath[i]
		if c == '/' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}

// Open allocates a new handle for apiPath, opening a strategy if this is
// the first handle on the path and reusing the existing one otherwise
// (spec §4.5: multiple handles share one OpenFile).
func (t *Table) Open(fsi metadata.FilesystemItem, writeIntent bool) (uint64, apierr.Code) {
	t.mu.Lock()
	e, ok := t.entries[fsi.APIPath]
	if !ok {
		t.mu.Unlock()
		of, code := t.openStrategy(fsi, writeIntent)
		if code != apierr.Success {
			return 0, code
		}
		t.mu.Lock()
		if existing, raced := t.entries[fsi.APIPath]; raced {
			// Another goroutine opened it first; discard ours and join theirs.
			of.Close()
			e = existing
		} else {
			e = &entry{of: of}
			t.entries[fsi.APIPath] = e
		}
	}
	e.refCount++
	t.nextHandle++
	handle := t.nextHandle
	t.handleOwner[handle] = fsi.APIPath
	e.of.AddHandle(handle, nil)
	t.mu.Unlock()
	return handle, apierr.Success
}

func (t *Table) lookup(handle uint64) (*entry, apierr.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	apiPath, ok := t.handleOwner[handle]
	if !ok {
		return nil, apierr.NotFound
	}
	e, ok := t.entries[apiPath]
	if !ok {
		return nil, apierr.NotFound
	}
	return e, apierr.Success
}

func (t *Table) Read(handle uint64, offset uint64, size int) ([]byte, apierr.Code) {
	e, code := t.lookup(handle)
	if code != apierr.Success {
		return nil, code
	}
	return e.of.Read(offset, size)
}

func (t *Table) Write(handle uint64, offset uint64, data []byte) (int, apierr.Code) {
	e, code := t.lookup(handle)
	if code != apierr.Success {
		return 0, code
	}
	if !e.of.IsWriteSupported() {
		return 0, apierr.NotSupported
	}
	return e.of.Write(offset, data)
}

// FileSize reports the current size of the strategy behind handle, used by
// the facade to refresh the metadata store's size field after a write.
func (t *Table) FileSize(handle uint64) (uint64, apierr.Code) {
	e, code := t.lookup(handle)
	if code != apierr.Success {
		return 0, code
	}
	return e.of.FileSize(), apierr.Success
}

func (t *Table) Resize(handle uint64, size uint64) apierr.Code {
	e, code := t.lookup(handle)
	if code != apierr.Success {
		return code
	}
	return e.of.Resize(size)
}

// Release drops one handle. The strategy itself is not torn down here —
// the idle-close scanner reclaims it once every handle is gone and
// CanClose() agrees, matching §4.5's "close is deferred, not immediate"
// behavior so a rapid close+reopen reuses in-flight downloads.
func (t *Table) Release(handle uint64) apierr.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	apiPath, ok := t.handleOwner[handle]
	if !ok {
		return apierr.NotFound
	}
	delete(t.handleOwner, handle)
	e, ok := t.entries[apiPath]
	if !ok {
		return apierr.NotFound
	}
	e.of.RemoveHandle(handle)
	if e.refCount > 0 {
		e.refCount--
	}
	if e.refCount == 0 && e.of.IsModified() && t.uploader != nil {
		t.uploader.Enqueue(apiPath, e.of.SourcePath())
	}
	return apierr.Success
}

func (t *Table) IsOpen(apiPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[apiPath]
	return ok
}

// Rename updates the in-memory strategy's api_path in place so handles
// opened before the rename keep working, per spec §5 ("rename must not
// orphan an open handle").
func (t *Table) Rename(from, to string) apierr.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[from]
	if !ok {
		return apierr.Success
	}
	e.of.SetAPIPath(to)
	delete(t.entries, from)
	t.entries[to] = e
	return apierr.Success
}

// MarkRemoved flags an open file as removed so its strategy skips any
// final upload when it eventually closes (spec §4.6: "a file removed while
// open must not re-upload on close").
func (t *Table) MarkRemoved(apiPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[apiPath]; ok {
		e.of.SetRemoved(true)
	}
}

// TryEvict implements C5's half of the eviction scanner's processing test
// (spec §4.7): succeeds only if the path has no open handles and is not
// modified or mid-download as a writable strategy. A path with no entry at
// all (never opened, or already idle-closed) is trivially evictable.
func (t *Table) TryEvict(apiPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[apiPath]
	if !ok {
		return true
	}
	if e.refCount > 0 {
		return false
	}
	if e.of.IsModified() {
		return false
	}
	if e.of.IsWriteSupported() && !e.of.IsComplete() {
		return false
	}
	e.of.Close()
	delete(t.entries, apiPath)
	return true
}

func (t *Table) runIdleCloser() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.ChunkTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweepIdle()
		}
	}
}

func (t *Table) sweepIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for apiPath, e := range t.entries {
		if e.refCount > 0 {
			continue
		}
		if !e.of.CanClose() {
			continue
		}
		e.of.Close()
		delete(t.entries, apiPath)
	}
}

// Count reports the number of distinct open api_paths, used by -status.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
