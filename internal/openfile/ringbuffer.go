package openfile

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

const minRingSize = 5

// maxPositionRetries bounds the internal retry loop around
// InvalidRingBufferPosition (spec §7: "internal, non-propagating"). A real
// race clears on the very next attempt; this only guards against a pathological
// caller that keeps seeking every iteration.
const maxPositionRetries = 64

// ringBuffer is the read-only sliding-window strategy (spec §4.3): a fixed
// number of chunks (ringSize) are kept in a scratch file at any time; as
// reads move forward or backward past the current window, the window
// slides and chunks that leave it are invalidated. Grounded on
// original_source/.../ring_buffer_base.cpp's update_position/download_chunk.
type ringBuffer struct {
	base

	file        *os.File // scratch file sized ringSize*chunkSize
	fileSize    uint64
	totalChunks int
	ringSize    int

	winBegin int // absolute chunk index, inclusive
	winEnd   int // absolute chunk index, inclusive

	readState  *bitset // positional within [winBegin, winEnd]
	downloads  map[int]*download
	downloadMu sync.Mutex
}

func newRingBuffer(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, file *os.File, fileSize uint64, ringSize int) *ringBuffer {
	if ringSize < minRingSize {
		ringSize = minRingSize
	}
	totalChunks := 0
	if fileSize > 0 {
		totalChunks = int((fileSize-1)/chunkSize) + 1
	}
	if ringSize > totalChunks && totalChunks > 0 {
		ringSize = totalChunks
	}
	end := ringSize - 1
	if end > totalChunks-1 {
		end = totalChunks - 1
	}
	return &ringBuffer{
		base:        newBase(fsi, chunkSize, chunkTimeout, deps),
		file:        file,
		fileSize:    fileSize,
		totalChunks: totalChunks,
		ringSize:    ringSize,
		winBegin:    0,
		winEnd:      end,
		readState:   newBitset(ringSize),
		downloads:   make(map[int]*download),
	}
}

func (r *ringBuffer) FileSize() uint64 { return r.fileSize }

func (r *ringBuffer) IsWriteSupported() bool { return false }

func (r *ringBuffer) IsComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.winBegin == 0 && r.winEnd == r.totalChunks-1 && r.readState.AllSet()
}

func (r *ringBuffer) ReadStateSnapshot() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readState.Snapshot()
}

func (r *ringBuffer) Write(offset uint64, data []byte) (int, apierr.Code) {
	return 0, apierr.NotSupported
}

func (r *ringBuffer) Resize(newSize uint64) apierr.Code { return apierr.NotSupported }

func (r *ringBuffer) chunkIndex(offset uint64) int { return int(offset / r.chunkSize) }

// updatePosition slides the window so that chunk idx falls within it,
// clearing read_state bits for chunks that leave the window. Mirrors
// update_position's delta-based clear-or-reset logic: small slides clear
// only the vacated range, slides >= ringSize invalidate everything.
func (r *ringBuffer) updatePosition(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx >= r.winBegin && idx <= r.winEnd {
		return
	}

	if idx > r.winEnd {
		delta := idx - r.winEnd
		newEnd := idx
		newBegin := newEnd - r.ringSize + 1
		if newBegin < 0 {
			newBegin = 0
		}
		if delta >= r.ringSize {
			r.readState.ClearAll()
		} else {
			// chunks [winBegin, winBegin+delta) slide out of the window
			r.shiftReadState(delta, true)
		}
		r.winBegin, r.winEnd = newBegin, newBegin+r.ringSize-1
		if r.winEnd > r.totalChunks-1 {
			r.winEnd = r.totalChunks - 1
		}
		return
	}

	delta := r.winBegin - idx
	newBegin := idx
	newEnd := newBegin + r.ringSize - 1
	if newEnd > r.totalChunks-1 {
		newEnd = r.totalChunks - 1
	}
	if delta >= r.ringSize {
		r.readState.ClearAll()
	} else {
		r.shiftReadState(delta, false)
	}
	r.winBegin, r.winEnd = newBegin, newEnd
}

// shiftReadState moves bits by delta positions (forward: bits slide toward
// index 0 and the tail delta positions are cleared as unknown; backward:
// bits slide toward the end and the head delta positions are cleared).
// Caller holds r.mu.
func (r *ringBuffer) shiftReadState(delta int, forward bool) {
	n := r.readState.Len()
	shifted := newBitset(n)
	if forward {
		for i := delta; i < n; i++ {
			shifted.Set(i-delta, r.readState.Test(i))
		}
	} else {
		for i := 0; i < n-delta; i++ {
			shifted.Set(i+delta, r.readState.Test(i))
		}
	}
	r.readState = shifted
}

func (r *ringBuffer) ensureChunk(ctx context.Context, idx int) apierr.Code {
	r.updatePosition(idx)

	r.mu.RLock()
	inWindow := idx >= r.winBegin && idx <= r.winEnd
	relative := idx - r.winBegin
	already := inWindow && r.readState.Test(relative)
	r.mu.RUnlock()
	if !inWindow {
		return apierr.InvalidRingBufferPosition
	}
	if already {
		return apierr.Success
	}

	r.downloadMu.Lock()
	if d, ok := r.downloads[idx]; ok {
		r.downloadMu.Unlock()
		return d.Wait()
	}
	d := newDownload()
	r.downloads[idx] = d
	r.downloadMu.Unlock()

	code := r.fetchChunk(ctx, idx)

	r.downloadMu.Lock()
	delete(r.downloads, idx)
	r.downloadMu.Unlock()

	d.Notify(code)
	return code
}

// ensureChunkStable calls ensureChunk, silently retrying while the window
// keeps sliding out from under idx (apierr.InvalidRingBufferPosition) so
// callers never see that code (spec §7).
func (r *ringBuffer) ensureChunkStable(ctx context.Context, idx int) apierr.Code {
	for attempt := 0; attempt < maxPositionRetries; attempt++ {
		code := r.ensureChunk(ctx, idx)
		if code != apierr.InvalidRingBufferPosition {
			return code
		}
	}
	return apierr.IoError
}

func (r *ringBuffer) fetchChunk(ctx context.Context, idx int) apierr.Code {
	off := uint64(idx) * r.chunkSize
	size := r.chunkSize
	if off+size > r.fileSize {
		size = r.fileSize - off
	}
	if size == 0 {
		return apierr.Success
	}

	buf := make([]byte, size)
	n, code := r.deps.Provider.ReadRange(ctx, r.APIPath(), int64(off), buf, &r.stop)
	if code != apierr.Success {
		r.setSticky(code)
		return code
	}

	// Window may have slid while the I/O was outstanding; discard a result
	// for a chunk that has since left the window rather than write stale
	// data at a relative offset that no longer means idx. Spec §4.3: this is
	// reported as InvalidRingBufferPosition, which Read treats as "retry the
	// read" and never lets escape past this package (§7).
	r.mu.Lock()
	if idx < r.winBegin || idx > r.winEnd {
		r.mu.Unlock()
		return apierr.InvalidRingBufferPosition
	}
	relative := idx - r.winBegin
	r.mu.Unlock()

	if _, err := r.file.WriteAt(buf[:n], int64(relative)*int64(r.chunkSize)); err != nil {
		r.setSticky(apierr.IoError)
		return apierr.IoError
	}

	r.mu.Lock()
	if idx >= r.winBegin && idx <= r.winEnd {
		r.readState.Set(idx-r.winBegin, true)
	}
	r.mu.Unlock()
	r.resetTimeout()
	return apierr.Success
}

func (r *ringBuffer) Read(offset uint64, size int) ([]byte, apierr.Code) {
	r.resetTimeout()
	if offset >= r.fileSize {
		return nil, apierr.Success
	}
	if offset+uint64(size) > r.fileSize {
		size = int(r.fileSize - offset)
	}
	if size <= 0 {
		return nil, apierr.Success
	}

	ctx := context.Background()
	first := r.chunkIndex(offset)
	last := r.chunkIndex(offset + uint64(size) - 1)
	out := make([]byte, 0, size)
	for idx := first; idx <= last; idx++ {
		if code := r.ensureChunkStable(ctx, idx); code != apierr.Success {
			return nil, code
		}
		r.mu.RLock()
		relative := idx - r.winBegin
		r.mu.RUnlock()

		chunkOff := uint64(idx) * r.chunkSize
		readStart := int64(0)
		if idx == first {
			readStart = int64(offset - chunkOff)
		}
		chunkLen := r.chunkSize
		if chunkOff+chunkLen > r.fileSize {
			chunkLen = r.fileSize - chunkOff
		}
		readEnd := int64(chunkLen)
		if idx == last {
			end := offset + uint64(size) - chunkOff
			if end < uint64(readEnd) {
				readEnd = int64(end)
			}
		}
		buf := make([]byte, readEnd-readStart)
		n, err := r.file.ReadAt(buf, int64(relative)*int64(r.chunkSize)+readStart)
		if err != nil && n == 0 {
			return nil, apierr.IoError
		}
		out = append(out, buf[:n]...)
	}
	return out, apierr.Success
}

func (r *ringBuffer) Close() bool {
	r.requestStop()
	return r.file.Close() == nil
}

func (r *ringBuffer) CanClose() bool {
	r.downloadMu.Lock()
	inflight := len(r.downloads)
	r.downloadMu.Unlock()
	if inflight > 0 {
		return false
	}
	idle := time.Since(r.LastAccess()) >= r.chunkTimeout
	return r.base.CanClose(idle)
}
