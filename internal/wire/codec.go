package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// EncodeRequest/DecodeRequest and EncodeResponse/DecodeResponse marshal the
// RPC envelopes for framing. gob is used rather than a third-party codec:
// both ends of this protocol are this same module's binary (client and
// server sides of the remote-mount peer), so there is no cross-language or
// cross-version wire-compatibility requirement that would justify anything
// beyond the standard library's own binary codec.
func EncodeRequest(req Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("wire: decode request: %w", err)
	}
	return req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, fmt.Errorf("wire: encode response: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("wire: decode response: %w", err)
	}
	return resp, nil
}
