// Package cachesize implements the process-wide byte budget shared by every
// full-file and ring-buffer OpenFile (spec §4.1, C1). It is constructed once
// in internal/facade.New and passed by reference into the components that need it —
// per the design note against C++-style function-local singletons, nothing
// in this package is itself a singleton.
package cachesize

import (
	"sync"
	"time"

	"github.com/objectmount/objectmount/pkg/apierr"
)

// defaultWaitInterval is how often a blocked Expand rechecks the budget even
// without an explicit wake, guarding against a missed Shrink notification.
const defaultWaitInterval = 5 * time.Second

// Governor is a blocking byte-budget counter. Expand blocks until enough
// space is reclaimed or Stop is called; Shrink always succeeds and wakes
// every blocked waiter so they can recheck.
type Governor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	max         uint64
	current     uint64
	stopped     bool
	waitPeriod  time.Duration
}

// New creates a Governor with the given maximum byte budget.
func New(maxBytes uint64) *Governor {
	g := &Governor{max: maxBytes, waitPeriod: defaultWaitInterval}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// SetWaitPeriod overrides the poll period used while a caller blocks in
// Expand. Exposed for tests; production code relies on the default.
func (g *Governor) SetWaitPeriod(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.waitPeriod = d
	}
}

// SetMax adjusts the configured maximum at runtime (e.g. after a config
// -set MaxCacheSizeBytes call) and wakes waiters so they can recheck.
func (g *Governor) SetMax(maxBytes uint64) {
	g.mu.Lock()
	g.max = maxBytes
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Expand reserves n additional bytes against the budget. It blocks, waking
// on every Shrink and at most every waitPeriod, until current+n <= max or
// Stop is called. The committed state never exceeds max; only a waiting
// goroutine may transiently observe an over-budget request.
func (g *Governor) Expand(n uint64) apierr.Code {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		if g.stopped {
			return apierr.Cancelled
		}
		if g.current+n <= g.max {
			g.current += n
			return apierr.Success
		}
		g.waitWithTimeout()
	}
}

// waitWithTimeout releases the lock and re-acquires it either when cond is
// signalled or after waitPeriod elapses, whichever comes first. Must be
// called with g.mu held.
func (g *Governor) waitWithTimeout() {
	period := g.waitPeriod
	done := make(chan struct{})
	timer := time.AfterFunc(period, func() {
		g.cond.Broadcast()
	})
	go func() {
		<-done
		timer.Stop()
	}()
	g.cond.Wait()
	close(done)
}

// Shrink releases min(n, current) bytes and wakes every waiter, even when n
// is zero — callers use Shrink(0) after deleting files out from under the
// governor (e.g. an orphan cleanup) purely to re-poke blocked Expand calls.
func (g *Governor) Shrink(n uint64) {
	g.mu.Lock()
	if n > g.current {
		n = g.current
	}
	g.current -= n
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Size returns a snapshot of the current reserved byte count.
func (g *Governor) Size() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Max returns the configured budget.
func (g *Governor) Max() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// Free returns the number of bytes currently available to Expand without
// blocking.
func (g *Governor) Free() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current >= g.max {
		return 0
	}
	return g.max - g.current
}

// Stop unblocks every waiter in Expand (they return apierr.Cancelled) and
// makes every subsequent Expand call return apierr.Cancelled immediately.
func (g *Governor) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Stopped reports whether Stop has been called.
func (g *Governor) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
