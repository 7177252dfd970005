// Package apierr provides the structured error taxonomy shared by every
// data-plane component: the cache governor, the open-file strategies, the
// open-file table, the upload manager, the eviction scanner, and the
// filesystem facade. Every operation that can fail across a component
// boundary returns one of the codes defined here rather than a bare error,
// so the facade can map it onto the calling protocol's error space (POSIX
// errno, an RPC status, a CLI exit code) without re-deriving semantics.
package apierr

import (
	"fmt"
	"time"
)

// Code is a member of the fixed §7 taxonomy. Unlike pkg/errors in the
// adapter layer, Code values are not meant to be extended by callers —
// the set is closed and every component switches over it exhaustively.
type Code string

const (
	Success                   Code = "SUCCESS"
	NotFound                  Code = "NOT_FOUND"
	IsDirectory               Code = "IS_DIRECTORY"
	IsFile                    Code = "IS_FILE"
	Exists                    Code = "EXISTS"
	DirectoryNotEmpty         Code = "DIRECTORY_NOT_EMPTY"
	AccessDenied              Code = "ACCESS_DENIED"
	PermissionDenied          Code = "PERMISSION_DENIED"
	NotSupported              Code = "NOT_SUPPORTED"
	InvalidOperation          Code = "INVALID_OPERATION"
	InvalidRingBufferPosition Code = "INVALID_RING_BUFFER_POSITION"
	NoSpace                   Code = "NO_SPACE"
	IoError                   Code = "IO_ERROR"
	OsError                   Code = "OS_ERROR"
	DownloadFailed            Code = "DOWNLOAD_FAILED"
	DownloadIncomplete        Code = "DOWNLOAD_INCOMPLETE"
	DownloadStopped           Code = "DOWNLOAD_STOPPED"
	UploadFailed              Code = "UPLOAD_FAILED"
	UploadStopped             Code = "UPLOAD_STOPPED"
	CommError                 Code = "COMM_ERROR"
	Cancelled                 Code = "CANCELLED"
)

// downloadSeverity ranks codes a download can end in so a sticky error can
// be compared against a new one and only overwritten by a strictly more
// severe outcome (spec §4.2: Success < DownloadIncomplete < DownloadStopped
// < any terminal error).
var downloadSeverity = map[Code]int{
	Success:            0,
	DownloadIncomplete: 1,
	DownloadStopped:    2,
}

// terminalSeverity is the rank assigned to any code not found in
// downloadSeverity — every other error outranks Success/Incomplete/Stopped.
const terminalSeverity = 3

func severity(c Code) int {
	if s, ok := downloadSeverity[c]; ok {
		return s
	}
	return terminalSeverity
}

// MoreSevere reports whether candidate should replace current as a sticky
// download error under the §4.2 precedence rule. Equal severities keep the
// existing (first-set) error, since "sticky" means first non-success wins
// among errors of the same rank.
func MoreSevere(current, candidate Code) bool {
	return severity(candidate) > severity(current)
}

// Error wraps a Code with operation context and an optional platform errno
// (for OsError) or wrapped cause, implementing the standard error interface
// so apierr values compose with errors.Is/errors.As and %w.
type Error struct {
	Code      Code
	Op        string
	Path      string
	Errno     int // populated only for OsError
	Cause     error
	Timestamp time.Time
}

func New(code Code, op, path string) *Error {
	return &Error{Code: code, Op: op, Path: path, Timestamp: time.Now()}
}

func Wrap(code Code, op, path string, cause error) *Error {
	return &Error{Code: code, Op: op, Path: path, Cause: cause, Timestamp: time.Now()}
}

func WithErrno(op, path string, errno int) *Error {
	return &Error{Code: OsError, Op: op, Path: path, Errno: errno, Timestamp: time.Now()}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apierr.New(NotFound, "", "")) match purely by code,
// which is how callers probe for a specific taxonomy member.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Retryable reports whether RetryReadCount-style retry loops should attempt
// this error again against a different endpoint/backoff, per §7.
func Retryable(code Code) bool {
	switch code {
	case CommError, DownloadFailed, UploadFailed, IoError:
		return true
	default:
		return false
	}
}
