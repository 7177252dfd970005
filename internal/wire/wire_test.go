package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello remote peer")
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	WriteFrame(&buf, nil)
	raw := buf.Bytes()
	raw[0], raw[7] = 0xff, 0xff // corrupt the length prefix to a huge value
	if _, err := ReadFrame(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}

func TestRequestResponseCodecRoundTrips(t *testing.T) {
	req := Request{Op: OpReadRange, APIPath: "/a/b.txt", Offset: 4, Length: 10}
	encoded, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}

	resp := Response{Code: "SUCCESS", Data: []byte("abc"), Size: 3}
	encodedResp, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	gotResp, err := DecodeResponse(encodedResp)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if gotResp.Code != resp.Code || string(gotResp.Data) != string(resp.Data) || gotResp.Size != resp.Size {
		t.Fatalf("got %+v, want %+v", gotResp, resp)
	}
}
