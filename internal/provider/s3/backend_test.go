package s3

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/objectmount/objectmount/pkg/apierr"
)

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string      { return e.code }
func (e fakeAPIError) ErrorCode() string  { return e.code }
func (e fakeAPIError) ErrorMessage() string { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestTranslateErrorMapsAccessDenied(t *testing.T) {
	if code := translateError(fakeAPIError{code: "AccessDenied"}); code != apierr.AccessDenied {
		t.Fatalf("code = %v, want AccessDenied", code)
	}
}

func TestTranslateErrorMapsNotFound(t *testing.T) {
	if code := translateError(fakeAPIError{code: "NoSuchKey"}); code != apierr.NotFound {
		t.Fatalf("code = %v, want NotFound", code)
	}
}

func TestTranslateErrorFallsBackToCommError(t *testing.T) {
	if code := translateError(errors.New("boom")); code != apierr.CommError {
		t.Fatalf("code = %v, want CommError", code)
	}
}

func TestKeyStripsLeadingSlash(t *testing.T) {
	p := &Provider{cfg: Config{Bucket: "b"}}
	if got := p.key("/a/b.txt"); got != "a/b.txt" {
		t.Fatalf("key = %q, want %q", got, "a/b.txt")
	}
}

func TestCalculatePartCount(t *testing.T) {
	cases := []struct {
		total, chunk int64
		want         int
	}{
		{0, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{100, 30, 4},
	}
	for _, c := range cases {
		if got := CalculatePartCount(c.total, c.chunk); got != c.want {
			t.Fatalf("CalculatePartCount(%d,%d) = %d, want %d", c.total, c.chunk, got, c.want)
		}
	}
}
