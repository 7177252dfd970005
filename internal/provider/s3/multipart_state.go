package s3

import (
	"sync"
	"time"
)

// UploadPart represents a single part of a multipart upload.
type UploadPart struct {
	PartNumber   int       `json:"part_number"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	Completed    bool      `json:"completed"`
	LastModified time.Time `json:"last_modified"`
	Offset       int64     `json:"offset"`
	RetryCount   int       `json:"retry_count"`
	Error        string    `json:"error,omitempty"`
}

// MultipartUploadState tracks the state of an in-progress multipart
// upload (spec Non-goals: byte-range partial *uploads* are out of scope,
// but a whole object may still be uploaded via multiple parts, which
// uploadMultipart sends one after another — this state tracker is kept from
// the teacher for exactly that, not for resumable partial writes).
type MultipartUploadState struct {
	mu             sync.Mutex
	UploadID       string                `json:"upload_id"`
	Bucket         string                `json:"bucket"`
	Key            string                `json:"key"`
	TotalSize      int64                 `json:"total_size"`
	ChunkSize      int64                 `json:"chunk_size"`
	Parts          map[int]*UploadPart   `json:"parts"`
	StartedAt      time.Time             `json:"started_at"`
	LastUpdatedAt  time.Time             `json:"last_updated_at"`
	CompletedParts int                   `json:"completed_parts"`
	TotalParts     int                   `json:"total_parts"`
	BytesUploaded  int64                 `json:"bytes_uploaded"`
	Status         MultipartUploadStatus `json:"status"`
}

type MultipartUploadStatus string

const (
	UploadStatusInitiated  MultipartUploadStatus = "initiated"
	UploadStatusInProgress MultipartUploadStatus = "in_progress"
	UploadStatusCompleted  MultipartUploadStatus = "completed"
	UploadStatusFailed     MultipartUploadStatus = "failed"
	UploadStatusAborted    MultipartUploadStatus = "aborted"
)

func (s MultipartUploadStatus) IsCompleted() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed || s == UploadStatusAborted
}

func NewMultipartUploadState(uploadID, bucket, key string, totalSize, chunkSize int64) *MultipartUploadState {
	return &MultipartUploadState{
		UploadID:      uploadID,
		Bucket:        bucket,
		Key:           key,
		TotalSize:     totalSize,
		ChunkSize:     chunkSize,
		Parts:         make(map[int]*UploadPart),
		StartedAt:     time.Now(),
		LastUpdatedAt: time.Now(),
		TotalParts:    CalculatePartCount(totalSize, chunkSize),
		Status:        UploadStatusInitiated,
	}
}

func (s *MultipartUploadState) MarkPartCompleted(partNumber int, size int64, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.Parts[partNumber]
	if !ok {
		part = &UploadPart{PartNumber: partNumber}
		s.Parts[partNumber] = part
	}
	part.Size = size
	part.ETag = etag
	part.Completed = true
	part.LastModified = time.Now()
	part.Error = ""
	s.CompletedParts++
	s.BytesUploaded += size
	s.LastUpdatedAt = time.Now()
	if s.CompletedParts >= s.TotalParts {
		s.Status = UploadStatusCompleted
	} else {
		s.Status = UploadStatusInProgress
	}
}

func (s *MultipartUploadState) MarkPartFailed(partNumber int, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.Parts[partNumber]
	if !ok {
		part = &UploadPart{PartNumber: partNumber}
		s.Parts[partNumber] = part
	}
	part.RetryCount++
	part.Error = errMsg
	s.LastUpdatedAt = time.Now()
}

// CompletedPartsOrdered returns the completed parts sorted by part number,
// the shape CompleteMultipartUpload requires.
func (s *MultipartUploadState) CompletedPartsOrdered() []*UploadPart {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*UploadPart, 0, len(s.Parts))
	for i := 1; i <= s.TotalParts; i++ {
		if p, ok := s.Parts[i]; ok && p.Completed {
			out = append(out, p)
		}
	}
	return out
}

// CalculatePartCount returns how many parts of chunkSize bytes are needed
// to cover totalSize.
func CalculatePartCount(totalSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 1
	}
	n := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return int(n)
}
