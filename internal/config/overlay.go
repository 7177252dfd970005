package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/objectmount/objectmount/internal/circuit"
	"github.com/objectmount/objectmount/pkg/recovery"
	"github.com/objectmount/objectmount/pkg/retry"
)

// ParseByteSize parses a human size string ("64MB", "2GB", "512KB", or a
// bare byte count) the way Configuration's string-typed size fields
// (cache_size, read_ahead_size, max_memory, ...) are written in config.json.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	units := []struct {
		suffix string
		mult   uint64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	upper := strings.ToUpper(s)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return uint64(n * float64(u.mult)), nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// MountTuning derives the FUSE mount options this overlay controls
// (spec §6: "Performance ... kept, re-targeted to FUSE MaxRead/MaxWrite").
// A size field that fails to parse is left at the caller's existing value,
// signaled by returning 0.
func (c *Configuration) MountTuning() (maxRead, maxWrite uint32, debug bool) {
	if n, err := ParseByteSize(c.Performance.ReadAheadSize); err == nil && n > 0 {
		maxRead = uint32(n)
	}
	if n, err := ParseByteSize(c.WriteBuffer.MaxMemory); err == nil && n > 0 {
		maxWrite = uint32(n)
	}
	debug = c.Global.LogLevel == "DEBUG"
	return maxRead, maxWrite, debug
}

// RecoveryConfig translates the overlay's network section into a
// pkg/recovery.RecoveryConfig, so an operator can retune provider
// retry/circuit-breaker behavior without touching config.json's
// repository-specific fields.
func (c *Configuration) RecoveryConfig() recovery.RecoveryConfig {
	cfg := recovery.DefaultRecoveryConfig()

	if c.Network.Retry.MaxAttempts > 0 {
		cfg.RetryConfig.MaxAttempts = c.Network.Retry.MaxAttempts
		cfg.RetryConfig.InitialDelay = nonZeroDuration(c.Network.Retry.BaseDelay, cfg.RetryConfig.InitialDelay)
		cfg.RetryConfig.MaxDelay = nonZeroDuration(c.Network.Retry.MaxDelay, cfg.RetryConfig.MaxDelay)
	}

	if c.Network.CircuitBreaker.Enabled {
		cfg.CircuitBreakerConfig.Interval = 30 * time.Second
		cfg.CircuitBreakerConfig.Timeout = nonZeroDuration(c.Network.CircuitBreaker.Timeout, cfg.CircuitBreakerConfig.Timeout)
		cfg.DefaultStrategy = recovery.StrategyCircuitBreaker
	}

	return cfg
}

// HealthCheckTuning returns the internal/health.Checker interval/timeout
// this overlay requests, falling back to the caller's defaults when the
// overlay leaves a field at its zero value.
func (c *Configuration) HealthCheckTuning(defaultInterval, defaultTimeout time.Duration) (interval, timeout time.Duration) {
	interval = nonZeroDuration(c.Monitoring.HealthChecks.Interval, defaultInterval)
	timeout = nonZeroDuration(c.Monitoring.HealthChecks.Timeout, defaultTimeout)
	return interval, timeout
}

func nonZeroDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
