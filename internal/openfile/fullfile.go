package openfile

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// fullFile is the writable strategy (spec §4.2): the remote object is
// chunk-downloaded on demand into a persistent local copy at SourcePath,
// read_state tracks which chunks have been pulled, and writes go straight
// to the local file and mark the written range present. Grounded on
// original_source/.../open_file.hpp (the single-file, non-ring variant of
// open_file_base).
type fullFile struct {
	base

	file       *os.File
	fileSize   uint64
	readState  *bitset
	downloads  map[int]*download
	downloadMu sync.Mutex
}

func newFullFile(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, file *os.File, fileSize uint64, readState *bitset) *fullFile {
	return &fullFile{
		base:      newBase(fsi, chunkSize, chunkTimeout, deps),
		file:      file,
		fileSize:  fileSize,
		readState: readState,
		downloads: make(map[int]*download),
	}
}

func (f *fullFile) FileSize() uint64 { f.mu.RLock(); defer f.mu.RUnlock(); return f.fileSize }

func (f *fullFile) IsWriteSupported() bool { return true }

func (f *fullFile) IsComplete() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readState.AllSet()
}

func (f *fullFile) ReadStateSnapshot() []uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readState.Snapshot()
}

func (f *fullFile) chunkIndex(offset uint64) int { return int(offset / f.chunkSize) }

// ensureChunk blocks until chunk idx has been downloaded (or fails),
// coalescing concurrent requesters onto a single provider call — grounded
// on ring_buffer_base.cpp's download_chunk coalescing pattern, reused here
// for the non-ring strategy since the same race applies.
func (f *fullFile) ensureChunk(ctx context.Context, idx int) apierr.Code {
	f.mu.RLock()
	already := f.readState.Test(idx)
	f.mu.RUnlock()
	if already {
		return apierr.Success
	}

	f.downloadMu.Lock()
	if d, ok := f.downloads[idx]; ok {
		f.downloadMu.Unlock()
		return d.Wait()
	}
	d := newDownload()
	f.downloads[idx] = d
	f.downloadMu.Unlock()

	code := f.fetchChunk(ctx, idx)

	f.downloadMu.Lock()
	delete(f.downloads, idx)
	f.downloadMu.Unlock()

	d.Notify(code)
	return code
}

func (f *fullFile) fetchChunk(ctx context.Context, idx int) apierr.Code {
	off := uint64(idx) * f.chunkSize
	size := f.chunkSize
	f.mu.RLock()
	if off+size > f.fileSize {
		size = f.fileSize - off
	}
	f.mu.RUnlock()
	if size == 0 || size > f.fileSize {
		return apierr.Success
	}

	if code := f.deps.Governor.Expand(size); code != apierr.Success {
		return code
	}

	buf := make([]byte, size)
	n, code := f.deps.Provider.ReadRange(ctx, f.APIPath(), int64(off), buf, &f.stop)
	if code != apierr.Success {
		f.deps.Governor.Shrink(size)
		f.setSticky(code)
		return code
	}

	if _, err := f.file.WriteAt(buf[:n], int64(off)); err != nil {
		f.deps.Governor.Shrink(size)
		f.setSticky(apierr.IoError)
		return apierr.IoError
	}

	f.mu.Lock()
	f.readState.Set(idx, true)
	f.mu.Unlock()
	f.resetTimeout()
	return apierr.Success
}

func (f *fullFile) Read(offset uint64, size int) ([]byte, apierr.Code) {
	f.resetTimeout()
	f.mu.RLock()
	fileSize := f.fileSize
	f.mu.RUnlock()
	if offset >= fileSize {
		return nil, apierr.Success
	}
	if offset+uint64(size) > fileSize {
		size = int(fileSize - offset)
	}
	if size <= 0 {
		return nil, apierr.Success
	}

	ctx := context.Background()
	first := f.chunkIndex(offset)
	last := f.chunkIndex(offset + uint64(size) - 1)
	for idx := first; idx <= last; idx++ {
		if code := f.ensureChunk(ctx, idx); code != apierr.Success {
			return nil, code
		}
	}

	buf := make([]byte, size)
	n, err := f.file.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return nil, apierr.IoError
	}
	return buf[:n], apierr.Success
}

// ensureWriteRange downloads any chunk touched by [offset, offset+len(data))
// that the write does not fully cover (spec §4.2: a chunk only needs
// materializing first "if the chunk is partial at either end and not yet
// present" — a write spanning a chunk's whole existing extent can skip the
// round trip, since every byte is about to be overwritten anyway).
func (f *fullFile) ensureWriteRange(ctx context.Context, offset uint64, dataLen int) apierr.Code {
	if dataLen == 0 {
		return apierr.Success
	}
	writeEnd := offset + uint64(dataLen)

	f.mu.RLock()
	oldFileSize := f.fileSize
	f.mu.RUnlock()

	first := f.chunkIndex(offset)
	last := f.chunkIndex(writeEnd - 1)
	for idx := first; idx <= last; idx++ {
		chunkStart := uint64(idx) * f.chunkSize
		existingEnd := chunkStart + f.chunkSize
		if existingEnd > oldFileSize {
			existingEnd = oldFileSize
		}
		if existingEnd <= chunkStart {
			continue // chunk has no remote content yet — nothing to fetch
		}
		if offset <= chunkStart && writeEnd >= existingEnd {
			continue // write fully covers the chunk's existing extent
		}
		if code := f.ensureChunk(ctx, idx); code != apierr.Success {
			return code
		}
	}
	return apierr.Success
}

func (f *fullFile) Write(offset uint64, data []byte) (int, apierr.Code) {
	f.resetTimeout()

	if code := f.ensureWriteRange(context.Background(), offset, len(data)); code != apierr.Success {
		return 0, code
	}

	n, err := f.file.WriteAt(data, int64(offset))
	if err != nil {
		return n, apierr.IoError
	}

	end := offset + uint64(n)
	f.mu.Lock()
	if end > f.fileSize {
		grown := end - f.fileSize
		f.fileSize = end
		f.readState.Resize(f.chunkIndex(end-1) + 1)
		f.mu.Unlock()
		f.deps.Governor.Expand(grown)
	} else {
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.readState.SetRange(f.chunkIndex(offset), f.chunkIndex(end-1)+1, true)
	f.mu.Unlock()
	f.setModified(true)
	return n, apierr.Success
}

func (f *fullFile) Resize(newSize uint64) apierr.Code {
	if err := f.file.Truncate(int64(newSize)); err != nil {
		return apierr.IoError
	}
	f.mu.Lock()
	old := f.fileSize
	f.fileSize = newSize
	numChunks := 0
	if newSize > 0 {
		numChunks = f.chunkIndex(newSize-1) + 1
	}
	f.readState.Resize(numChunks)
	if newSize > old {
		f.readState.SetRange(f.chunkIndex(old), numChunks, true)
	}
	f.mu.Unlock()
	if newSize > old {
		f.deps.Governor.Expand(newSize - old)
	} else if newSize < old {
		f.deps.Governor.Shrink(old - newSize)
	}
	f.setModified(true)
	return apierr.Success
}

func (f *fullFile) Close() bool {
	f.requestStop()
	f.mu.RLock()
	size := f.fileSize
	f.mu.RUnlock()
	f.deps.Governor.Shrink(size)
	return f.file.Close() == nil
}

func (f *fullFile) CanClose() bool {
	f.downloadMu.Lock()
	inflight := len(f.downloads)
	f.downloadMu.Unlock()
	if inflight > 0 {
		return false
	}
	idle := time.Since(f.LastAccess()) >= f.chunkTimeout
	return f.base.CanClose(idle)
}
