package openfile

import (
	"os"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// NewFullFile opens (creating if absent) the persistent source file backing
// a writable full-file open and wraps it in the fullFile strategy. The
// caller supplies an existing on-disk size (0 for a brand-new file) and,
// for a restart rehydration, a previously-snapshotted read_state (nil for
// fresh opens) per spec §3 Entity: ResumeEntry.
func NewFullFile(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, fileSize uint64, resumeReadState []uint64) (OpenFile, apierr.Code) {
	file, err := os.OpenFile(fsi.SourcePath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, apierr.IoError
	}

	numChunks := 0
	if fileSize > 0 {
		numChunks = int((fileSize-1)/chunkSize) + 1
	}
	readState := newBitset(numChunks)
	if resumeReadState != nil {
		readState.RestoreFrom(numChunks, resumeReadState)
	}

	return newFullFile(fsi, chunkSize, chunkTimeout, deps, file, fileSize, readState), apierr.Success
}

// NewRingBuffer opens a fresh scratch file at scratchPath sized to hold
// ringSize chunks and wraps it in the ring-buffer strategy (spec §4.3).
func NewRingBuffer(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, scratchPath string, fileSize uint64, ringSize int) (OpenFile, apierr.Code) {
	file, err := os.OpenFile(scratchPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, apierr.IoError
	}
	return newRingBuffer(fsi, chunkSize, chunkTimeout, deps, file, fileSize, ringSize), apierr.Success
}

// NewDirect wraps the in-memory read-only strategy (spec §4.4): a ring of
// ringSize in-memory chunk buffers, structurally identical to NewRingBuffer
// but with no scratch file since content never touches disk.
func NewDirect(fsi metadata.FilesystemItem, chunkSize uint64, chunkTimeout time.Duration, deps Deps, fileSize uint64, ringSize int) (OpenFile, apierr.Code) {
	return newDirect(fsi, chunkSize, chunkTimeout, deps, fileSize, ringSize), apierr.Success
}
