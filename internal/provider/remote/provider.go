// Package remote implements the "remote-mount peer" back end (spec §1):
// a thin client for the §6 wire protocol, a length-prefixed binary RPC
// that mirrors the façade operations. The peer on the other end of the
// connection is out of scope (spec §1 lists "the remote-mount wire
// protocol" as an external collaborator); this package only needs to
// speak the client half faithfully.
package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/internal/wire"
	"github.com/objectmount/objectmount/pkg/apierr"
)

// Config dials a single peer address; one Provider owns one connection,
// reconnected on demand since the wire protocol is one-request-one-response
// over a persistent stream.
type Config struct {
	Address string
	DialTimeout time.Duration
}

type Provider struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg Config) *Provider {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) ensureConn() (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := net.DialTimeout("tcp", p.cfg.Address, p.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// dropConn discards a connection that failed mid-RPC so the next call
// redials rather than reusing a stream left in an unknown framing state.
func (p *Provider) dropConn(bad net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == bad {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Provider) call(ctx context.Context, req wire.Request) (wire.Response, apierr.Code) {
	conn, err := p.ensureConn()
	if err != nil {
		return wire.Response{}, apierr.CommError
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(60 * time.Second))
	}

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return wire.Response{}, apierr.CommError
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		p.dropConn(conn)
		return wire.Response{}, apierr.CommError
	}
	respFrame, err := wire.ReadFrame(conn)
	if err != nil {
		p.dropConn(conn)
		return wire.Response{}, apierr.CommError
	}
	resp, err := wire.DecodeResponse(respFrame)
	if err != nil {
		p.dropConn(conn)
		return wire.Response{}, apierr.CommError
	}
	return resp, apierr.Code(resp.Code)
}

func (p *Provider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	resp, code := p.call(ctx, wire.Request{Op: wire.OpList, APIPath: apiPath})
	if code != apierr.Success {
		return nil, code
	}
	entries := make([]provider.ListEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, provider.ListEntry{APIPath: e.APIPath, Directory: e.Directory})
	}
	return entries, apierr.Success
}

func (p *Provider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	resp, code := p.call(ctx, wire.Request{Op: wire.OpHead, APIPath: apiPath})
	if code != apierr.Success {
		return provider.ObjectAttrs{}, code
	}
	return provider.ObjectAttrs{
		APIPath:   apiPath,
		Size:      resp.Size,
		Directory: resp.Directory,
		Modified:  time.Unix(resp.Modified, 0),
	}, apierr.Success
}

func (p *Provider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	if stop.Stopped() {
		return 0, apierr.DownloadStopped
	}
	resp, code := p.call(ctx, wire.Request{Op: wire.OpReadRange, APIPath: apiPath, Offset: offset, Length: int64(len(buf))})
	if code != apierr.Success {
		return 0, code
	}
	n := copy(buf, resp.Data)
	return n, apierr.Success
}

func (p *Provider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	_, code := p.call(ctx, wire.Request{Op: wire.OpUpload, APIPath: apiPath, SourcePath: sourcePath})
	return code
}

func (p *Provider) Mkdir(ctx context.Context, apiPath string) apierr.Code {
	_, code := p.call(ctx, wire.Request{Op: wire.OpMkdir, APIPath: apiPath})
	return code
}

func (p *Provider) Rmdir(ctx context.Context, apiPath string) apierr.Code {
	_, code := p.call(ctx, wire.Request{Op: wire.OpRmdir, APIPath: apiPath})
	return code
}

func (p *Provider) Rename(ctx context.Context, fromPath, toPath string) apierr.Code {
	_, code := p.call(ctx, wire.Request{Op: wire.OpRename, APIPath: fromPath, ToPath: toPath})
	return code
}

func (p *Provider) SupportsRename() bool { return true }

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
