package openfile

import (
	"context"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// direct is the read-only in-memory strategy (spec §4.4): structurally
// identical to ringBuffer (spec §9), but the scratch is a vector of
// ring_size in-memory buffers instead of a disk-backed scratch file. It
// exists for files too large even for the ring buffer's disk scratch, so
// buffering the whole object would be the exact unbounded-memory problem
// the windowed design exists to avoid.
type direct struct {
	base

	fileSize    uint64
	totalChunks int
	ringSize    int

	winBegin int // absolute chunk index, inclusive
	winEnd   int // absolute chunk index, inclusive

	readState  *bitset // positional within [winBegin, winEnd]
	buffers    [][]byte
	downloads  map[int]*download
	downloadMu sync.Mutex
}

func newDirect(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, fileSize uint64, ringSize int) *direct {
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
	return &direct{
		base:        newBase(fsi, chunkSize, chunkTimeout, deps),
		fileSize:    fileSize,
		totalChunks: totalChunks,
		ringSize:    ringSize,
		winBegin:    0,
		winEnd:      end,
		readState:   newBitset(ringSize),
		buffers:     make([][]byte, ringSize),
		downloads:   make(map[int]*download),
	}
}

func (d *direct) FileSize() uint64 { return d.fileSize }

func (d *direct) IsWriteSupported() bool { return false }

func (d *direct) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.winBegin == 0 && d.winEnd == d.totalChunks-1 && d.readState.AllSet()
}

func (d *direct) ReadStateSnapshot() []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readState.Snapshot()
}

func (d *direct) Write(offset uint64, data []byte) (int, apierr.Code) {
	return 0, apierr.NotSupported
}

func (d *direct) Resize(newSize uint64) apierr.Code { return apierr.NotSupported }

func (d *direct) chunkIndex(offset uint64) int { return int(offset / d.chunkSize) }

// updatePosition mirrors ringBuffer.updatePosition: slides the window so
// idx falls within it, clearing read_state bits for chunks that leave.
func (d *direct) updatePosition(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx >= d.winBegin && idx <= d.winEnd {
		return
	}

	if idx > d.winEnd {
		delta := idx - d.winEnd
		newEnd := idx
		newBegin := newEnd - d.ringSize + 1
		if newBegin < 0 {
			newBegin = 0
		}
		if delta >= d.ringSize {
			d.readState.ClearAll()
		} else {
			d.shiftReadState(delta, true)
		}
		d.winBegin, d.winEnd = newBegin, newBegin+d.ringSize-1
		if d.winEnd > d.totalChunks-1 {
			d.winEnd = d.totalChunks - 1
		}
		return
	}

	delta := d.winBegin - idx
	newBegin := idx
	newEnd := newBegin + d.ringSize - 1
	if newEnd > d.totalChunks-1 {
		newEnd = d.totalChunks - 1
	}
	if delta >= d.ringSize {
		d.readState.ClearAll()
	} else {
		d.shiftReadState(delta, false)
	}
	d.winBegin, d.winEnd = newBegin, newEnd
}

// shiftReadState mirrors ringBuffer.shiftReadState, also rotating the
// buffer slots alongside the bits they describe. Caller holds d.mu.
func (d *direct) shiftReadState(delta int, forward bool) {
	n := d.readState.Len()
	shifted := newBitset(n)
	buffers := make([][]byte, d.ringSize)
	if forward {
		for i := delta; i < n; i++ {
			shifted.Set(i-delta, d.readState.Test(i))
			if i < len(d.buffers) {
				buffers[i-delta] = d.buffers[i]
			}
		}
	} else {
		for i := 0; i < n-delta; i++ {
			shifted.Set(i+delta, d.readState.Test(i))
			if i < len(d.buffers) {
				buffers[i+delta] = d.buffers[i]
			}
		}
	}
	d.readState = shifted
	d.buffers = buffers
}

func (d *direct) ensureChunk(ctx context.Context, idx int) apierr.Code {
	d.updatePosition(idx)

	d.mu.RLock()
	inWindow := idx >= d.winBegin && idx <= d.winEnd
	relative := idx - d.winBegin
	already := inWindow && d.readState.Test(relative)
	d.mu.RUnlock()
	if !inWindow {
		return apierr.InvalidRingBufferPosition
	}
	if already {
		return apierr.Success
	}

	d.downloadMu.Lock()
	if dl, ok := d.downloads[idx]; ok {
		d.downloadMu.Unlock()
		return dl.Wait()
	}
	dl := newDownload()
	d.downloads[idx] = dl
	d.downloadMu.Unlock()

	code := d.fetchChunk(ctx, idx)

	d.downloadMu.Lock()
	delete(d.downloads, idx)
	d.downloadMu.Unlock()

	dl.Notify(code)
	return code
}

// ensureChunkStable mirrors ringBuffer.ensureChunkStable: silently retries
// while the window keeps sliding out from under idx, so InvalidRingBufferPosition
// never escapes this package (spec §7).
func (d *direct) ensureChunkStable(ctx context.Context, idx int) apierr.Code {
	for attempt := 0; attempt < maxPositionRetries; attempt++ {
		code := d.ensureChunk(ctx, idx)
		if code != apierr.InvalidRingBufferPosition {
			return code
		}
	}
	return apierr.IoError
}

func (d *direct) fetchChunk(ctx context.Context, idx int) apierr.Code {
	off := uint64(idx) * d.chunkSize
	size := d.chunkSize
	if off+size > d.fileSize {
		size = d.fileSize - off
	}
	if size == 0 {
		return apierr.Success
	}

	buf := make([]byte, size)
	n, code := d.deps.Provider.ReadRange(ctx, d.APIPath(), int64(off), buf, &d.stop)
	if code != apierr.Success {
		d.setSticky(code)
		return code
	}

	// Window may have slid while the I/O was outstanding; discard a result
	// for a chunk that has since left the window, mirroring ringBuffer's
	// race-discard (spec §4.3/§4.4 share the same sliding-window shape).
	d.mu.Lock()
	if idx < d.winBegin || idx > d.winEnd {
		d.mu.Unlock()
		return apierr.InvalidRingBufferPosition
	}
	relative := idx - d.winBegin
	d.buffers[relative] = buf[:n]
	d.readState.Set(relative, true)
	d.mu.Unlock()
	d.resetTimeout()
	return apierr.Success
}

func (d *direct) Read(offset uint64, size int) ([]byte, apierr.Code) {
	d.resetTimeout()
	if offset >= d.fileSize {
		return nil, apierr.Success
	}
	if offset+uint64(size) > d.fileSize {
		size = int(d.fileSize - offset)
	}
	if size <= 0 {
		return nil, apierr.Success
	}

	ctx := context.Background()
	first := d.chunkIndex(offset)
	last := d.chunkIndex(offset + uint64(size) - 1)
	out := make([]byte, 0, size)
	for idx := first; idx <= last; idx++ {
		if code := d.ensureChunkStable(ctx, idx); code != apierr.Success {
			return nil, code
		}

		d.mu.RLock()
		relative := idx - d.winBegin
		buf := d.buffers[relative]
		d.mu.RUnlock()

		chunkOff := uint64(idx) * d.chunkSize
		readStart := int64(0)
		if idx == first {
			readStart = int64(offset - chunkOff)
		}
		chunkLen := d.chunkSize
		if chunkOff+chunkLen > d.fileSize {
			chunkLen = d.fileSize - chunkOff
		}
		readEnd := int64(chunkLen)
		if idx == last {
			end := offset + uint64(size) - chunkOff
			if end < uint64(readEnd) {
				readEnd = int64(end)
			}
		}
		if readEnd > int64(len(buf)) {
			readEnd = int64(len(buf))
		}
		if readStart > readEnd {
			readStart = readEnd
		}
		out = append(out, buf[readStart:readEnd]...)
	}
	return out, apierr.Success
}

func (d *direct) Close() bool {
	d.requestStop()
	d.mu.Lock()
	d.buffers = nil
	d.mu.Unlock()
	return true
}

func (d *direct) CanClose() bool {
	d.downloadMu.Lock()
	inflight := len(d.downloads)
	d.downloadMu.Unlock()
	if inflight > 0 {
		return false
	}
	idle := time.Since(d.LastAccess()) >= d.chunkTimeout
	return d.base.CanClose(idle)
}
