package openfile

import (
	"context"
	"sync"

	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// fakeProvider serves ReadRange from an in-memory byte slice, used by every
// strategy's tests in place of a real S3/Sia/remote backend.
type fakeProvider struct {
	mu      sync.Mutex
	content []byte
	failAt  map[int64]apierr.Code // offset -> code to return instead of serving
	reads   int
}

func newFakeProvider(content []byte) *fakeProvider {
	return &fakeProvider{content: content, failAt: make(map[int64]apierr.Code)}
}

func (p *fakeProvider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	return nil, apierr.NotSupported
}

func (p *fakeProvider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	return provider.ObjectAttrs{APIPath: apiPath, Size: int64(len(p.content))}, apierr.Success
}

func (p *fakeProvider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if code, ok := p.failAt[offset]; ok {
		return 0, code
	}
	if offset >= int64(len(p.content)) {
		return 0, apierr.Success
	}
	n := copy(buf, p.content[offset:])
	return n, apierr.Success
}

func (p *fakeProvider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	return apierr.Success
}

func (p *fakeProvider) Mkdir(ctx context.Context, apiPath string) apierr.Code { return apierr.Success }
func (p *fakeProvider) Rmdir(ctx context.Context, apiPath string) apierr.Code { return apierr.Success }
func (p *fakeProvider) Rename(ctx context.Context, from, to string) apierr.Code {
	return apierr.NotSupported
}
func (p *fakeProvider) SupportsRename() bool { return false }

// fakeGovernor never blocks; it just counts bytes for assertions.
type fakeGovernor struct {
	mu      sync.Mutex
	current uint64
}

func (g *fakeGovernor) Expand(n uint64) apierr.Code {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current += n
	return apierr.Success
}

func (g *fakeGovernor) Shrink(n uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > g.current {
		n = g.current
	}
	g.current -= n
}

func (g *fakeGovernor) Free() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ^uint64(0) - g.current
}
