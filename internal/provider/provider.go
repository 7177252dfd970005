// Package provider defines the back-end-specific adapter contract (spec §3
// Component C3 / §6 "Provider adapter"). Every remote back-end — S3, a Sia
// renter, a remote-mount peer, or an encrypt-pass-through local directory —
// implements Provider; the open-file strategies and the upload manager only
// ever see this interface, never a concrete backend.
package provider

import (
	"context"
	"time"

	"github.com/objectmount/objectmount/pkg/apierr"
)

// ObjectAttrs is the subset of ApiFile attributes a provider can report
// about a remote object, independent of the local metadata catalog.
type ObjectAttrs struct {
	APIPath   string
	Size      int64
	Directory bool
	Modified  time.Time
}

// ListEntry is one child returned by List.
type ListEntry struct {
	APIPath   string
	Directory bool
}

// StopSignal is a read-only cancellation flag threaded into blocking
// provider calls (spec §5: "A per-OpenFile stop flag ... C3 calls take it
// as a read reference"). *StopFlag satisfies every use site in this package; a
// context.Context is used in addition for deadline-style cancellation.
type StopSignal interface {
	Stopped() bool
}

// StopFlag is the concrete StopSignal used by open-file strategies.
type StopFlag struct {
	v bool
}

func (f *StopFlag) Set()           { f.v = true }
func (f *StopFlag) Stopped() bool  { return f.v }

// Provider is the narrow, back-end-specific surface consumed by C4/C5/C6/C7.
// Rename may return apierr.NotSupported; callers must treat that as
// "provider declared non-renaming" per spec §5.
type Provider interface {
	// List returns the direct children of path.
	List(ctx context.Context, apiPath string) ([]ListEntry, apierr.Code)

	// Head returns remote attributes for apiPath.
	Head(ctx context.Context, apiPath string) (ObjectAttrs, apierr.Code)

	// ReadRange reads [offset, offset+len(buf)) of apiPath into buf,
	// returning the number of bytes actually read. stop is polled
	// periodically and causes a prompt apierr.DownloadStopped return.
	ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop StopSignal) (int, apierr.Code)

	// Upload sends the whole local file at sourcePath as apiPath's new
	// remote content (spec Non-goals: whole-object upload only).
	Upload(ctx context.Context, apiPath, sourcePath string, stop StopSignal) apierr.Code

	Mkdir(ctx context.Context, apiPath string) apierr.Code
	Rmdir(ctx context.Context, apiPath string) apierr.Code

	// Rename may legitimately return apierr.NotSupported.
	Rename(ctx context.Context, fromPath, toPath string) apierr.Code

	// SupportsRename reports up front whether Rename ever succeeds, so
	// C5 can reject renames without attempting a provider round-trip.
	SupportsRename() bool
}
