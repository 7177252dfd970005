package resilient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectmount/objectmount/internal/circuit"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
	"github.com/objectmount/objectmount/pkg/recovery"
	"github.com/objectmount/objectmount/pkg/retry"
)

type stubProvider struct {
	headCodes []apierr.Code
	headCalls int
	renameN   bool
}

func (s *stubProvider) List(ctx context.Context, apiPath string) ([]provider.ListEntry, apierr.Code) {
	return nil, apierr.Success
}

func (s *stubProvider) Head(ctx context.Context, apiPath string) (provider.ObjectAttrs, apierr.Code) {
	code := s.headCodes[s.headCalls]
	if s.headCalls < len(s.headCodes)-1 {
		s.headCalls++
	}
	return provider.ObjectAttrs{APIPath: apiPath}, code
}

func (s *stubProvider) ReadRange(ctx context.Context, apiPath string, offset int64, buf []byte, stop provider.StopSignal) (int, apierr.Code) {
	return 0, apierr.Success
}

func (s *stubProvider) Upload(ctx context.Context, apiPath, sourcePath string, stop provider.StopSignal) apierr.Code {
	return apierr.Success
}

func (s *stubProvider) Mkdir(ctx context.Context, apiPath string) apierr.Code { return apierr.Success }
func (s *stubProvider) Rmdir(ctx context.Context, apiPath string) apierr.Code { return apierr.Success }
func (s *stubProvider) Rename(ctx context.Context, from, to string) apierr.Code {
	return apierr.Success
}
func (s *stubProvider) SupportsRename() bool { return s.renameN }

func fastRecoveryConfig() recovery.RecoveryConfig {
	cfg := recovery.DefaultRecoveryConfig()
	cfg.RetryConfig = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	cfg.CircuitBreakerConfig = circuit.Config{MaxRequests: 5, Interval: time.Minute, Timeout: time.Minute}
	return cfg
}

func TestHeadRetriesTransientThenSucceeds(t *testing.T) {
	inner := &stubProvider{headCodes: []apierr.Code{apierr.CommError, apierr.CommError, apierr.Success}}
	p := New(inner, "test", fastRecoveryConfig())

	attrs, code := p.Head(context.Background(), "/a.txt")
	require.Equal(t, apierr.Success, code)
	assert.Equal(t, "/a.txt", attrs.APIPath)
	assert.GreaterOrEqual(t, inner.headCalls, 2, "Head should have been retried at least twice")
}

func TestHeadPassesThroughNotFoundWithoutRetry(t *testing.T) {
	inner := &stubProvider{headCodes: []apierr.Code{apierr.NotFound}}
	p := New(inner, "test", fastRecoveryConfig())

	_, code := p.Head(context.Background(), "/missing.txt")
	require.Equal(t, apierr.NotFound, code)
	assert.Equal(t, 0, inner.headCalls, "a business code must not trigger a retry")
}

func TestHeadExhaustsRetriesAndReturnsLastTransientCode(t *testing.T) {
	inner := &stubProvider{headCodes: []apierr.Code{apierr.CommError}}
	p := New(inner, "test", fastRecoveryConfig())

	_, code := p.Head(context.Background(), "/a.txt")
	assert.Equal(t, apierr.CommError, code)
}

func TestSupportsRenamePassesThrough(t *testing.T) {
	inner := &stubProvider{renameN: true}
	p := New(inner, "test", fastRecoveryConfig())
	assert.True(t, p.SupportsRename())
}

func TestCloseNoopWhenInnerLacksClose(t *testing.T) {
	inner := &stubProvider{}
	p := New(inner, "test", fastRecoveryConfig())
	assert.NoError(t, p.Close())
}
