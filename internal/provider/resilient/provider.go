// Package resilient wraps a provider.Provider with pkg/recovery's retry and
// circuit-breaker machinery, so a flaky remote backend degrades gracefully
// instead of stalling every C4/C5/C6/C7 call that touches it.
package resilient

import (
	"context"
	"fmt"

	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
	"github.com/objectmount/objectmount/pkg/errors"
	"github.com/objectmount/objectmount/pkg/recovery"
)

// transient reports whether code represents a condition worth retrying or
// counting against the circuit breaker, as opposed to a business-level
// outcome (NotFound, Exists, IsDirectory, ...) a caller needs to see
// untouched.
func transient(code apierr.Code) bool {
	switch code {
	case apierr.CommError, apierr.IoError, apierr.OsError, apierr.DownloadFailed, apierr.UploadFailed:
		return true
	default:
		return false
	}
}

// Provider decorates an inner provider.Provider, routing transient failures
// through a recovery.RecoveryManager scoped to this backend's name.
type Provider struct {
	inner provider.Provider
	rm    *recovery.RecoveryManager
	name  string
}

// New wraps inner. name distinguishes the breaker/backoff state of this
// backend from any other Provider wrapped in the same process (the adapter
// only ever wraps one, but tests construct several side by side).
func New(inner provider.Provider, name string, cfg recovery.RecoveryConfig) *Provider {
	return &Provider{inner: inner, rm: recovery.NewRecoveryManager(cfg), name: name}
}

func (p *Provider) component() string { return "provider:" + p.name }

// guard runs call under the recovery manager, returning whatever apierr.Code
// call last produced. Non-transient codes short-circuit the manager's
// retry/circuit-breaker bookkeeping entirely — a NotFound is not a backend
// failure. Transient codes are reported as a retryable *errors.ObjectFSError
// so pkg/retry's shouldRetry (which only backs off ObjectFSErrors with
// Retryable set) actually engages.
func (p *Provider) guard(ctx context.Context, operation string, call func() apierr.Code) apierr.Code {
	var outcome apierr.Code
	_ = p.rm.Execute(ctx, p.component(), operation, func() error {
		outcome = call()
		if transient(outcome) {
			return errors.NewError(errors.ErrCodeNetworkError, fmt.Sprintf("%s: %s", operation, outcome)).
				WithComponent(p.component()).
				WithOperation(operation)
		}
		return nil
	})
	return outcome
}

func (p *Provider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	var entries []provider.ListEntry
	code := p.guard(ctx, "list", func() apierr.Code {
		var c apierr.Code
		entries, c = p.inner.List(ctx, apiPath)
		return c
	})
	return entries, code
}

func (p *Provider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	var attrs provider.ObjectAttrs
	code := p.guard(ctx, "head", func() apierr.Code {
		var c apierr.Code
		attrs, c = p.inner.Head(ctx, apiPath)
		return c
	})
	return attrs, code
}

func (p *Provider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	var n int
	code := p.guard(ctx, "read_range", func() apierr.Code {
		var c apierr.Code
		n, c = p.inner.ReadRange(ctx, apiPath, offset, buf, stop)
		return c
	})
	return n, code
}

func (p *Provider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	return p.guard(ctx, "upload", func() apierr.Code {
		return p.inner.Upload(ctx, apiPath, sourcePath, stop)
	})
}

func (p *Provider) Mkdir(ctx context.Context, apiPath string) apierr.Code {
	return p.guard(ctx, "mkdir", func() apierr.Code {
		return p.inner.Mkdir(ctx, apiPath)
	})
}

func (p *Provider) Rmdir(ctx context.Context, apiPath string) apierr.Code {
	return p.guard(ctx, "rmdir", func() apierr.Code {
		return p.inner.Rmdir(ctx, apiPath)
	})
}

func (p *Provider) Rename(ctx context.Context, fromPath, toPath string) apierr.Code {
	return p.guard(ctx, "rename", func() apierr.Code {
		return p.inner.Rename(ctx, fromPath, toPath)
	})
}

// SupportsRename is a static capability query, not a remote call, so it
// passes straight through with no recovery bookkeeping.
func (p *Provider) SupportsRename() bool {
	return p.inner.SupportsRename()
}

// Close forwards to inner's Close if it has one, so callers that
// type-assert interface{ Close() error } (internal/adapter.TestConnectivity)
// keep working transparently through the wrapper.
func (p *Provider) Close() error {
	if closer, ok := p.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
