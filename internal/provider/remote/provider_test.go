package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/objectmount/objectmount/internal/wire"
	"github.com/objectmount/objectmount/pkg/apierr"
)

type alwaysRunning struct{}

func (alwaysRunning) Stopped() bool { return false }

// fakePeerServer is a minimal in-process stand-in for the remote-mount
// peer this package's Provider talks to — enough of the §6 wire protocol
// to exercise the client's framing and dispatch.
func fakePeerServer(t *testing.T, handle func(wire.Request) wire.Response) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			frame, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			req, err := wire.DecodeRequest(frame)
			if err != nil {
				return
			}
			resp := handle(req)
			payload, err := wire.EncodeResponse(resp)
			if err != nil {
				return
			}
			if err := wire.WriteFrame(conn, payload); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestHeadReturnsAttrsFromPeer(t *testing.T) {
	addr := fakePeerServer(t, func(req wire.Request) wire.Response {
		if req.Op != wire.OpHead || req.APIPath != "/a.txt" {
			return wire.Response{Code: string(apierr.InvalidOperation)}
		}
		return wire.Response{Code: string(apierr.Success), Size: 42}
	})

	p := New(Config{Address: addr, DialTimeout: time.Second})
	attrs, code := p.Head(context.Background(), "/a.txt")
	if code != apierr.Success {
		t.Fatalf("code = %v, want Success", code)
	}
	if attrs.Size != 42 {
		t.Fatalf("size = %d, want 42", attrs.Size)
	}
}

func TestReadRangeReturnsDataFromPeer(t *testing.T) {
	addr := fakePeerServer(t, func(req wire.Request) wire.Response {
		return wire.Response{Code: string(apierr.Success), Data: []byte("hello")}
	})
	p := New(Config{Address: addr, DialTimeout: time.Second})
	buf := make([]byte, 5)
	n, code := p.ReadRange(context.Background(), "/a.txt", 0, buf, alwaysRunning{})
	if code != apierr.Success {
		t.Fatalf("code = %v, want Success", code)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

func TestRenameNotSupportedPropagatesCode(t *testing.T) {
	addr := fakePeerServer(t, func(req wire.Request) wire.Response {
		return wire.Response{Code: string(apierr.NotSupported)}
	})
	p := New(Config{Address: addr, DialTimeout: time.Second})
	if code := p.Rename(context.Background(), "/a", "/b"); code != apierr.NotSupported {
		t.Fatalf("code = %v, want NotSupported", code)
	}
}

func TestListReturnsEntriesFromPeer(t *testing.T) {
	addr := fakePeerServer(t, func(req wire.Request) wire.Response {
		return wire.Response{
			Code: string(apierr.Success),
			Entries: []wire.Entry{
				{APIPath: "/dir/a.txt"},
				{APIPath: "/dir/sub", Directory: true},
			},
		}
	})
	p := New(Config{Address: addr, DialTimeout: time.Second})
	entries, code := p.List(context.Background(), "/dir")
	if code != apierr.Success {
		t.Fatalf("code = %v, want Success", code)
	}
	if len(entries) != 2 || entries[1].Directory != true {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
