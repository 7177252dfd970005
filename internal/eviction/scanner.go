// Package eviction implements the eviction scanner (spec §4.7, C7): a
// periodic walk of the cache directory that reclaims bytes for files the
// upload manager and open-file table agree are safe to discard. Grounded
// on original_source/.../drives/eviction.cpp for the scan/evict contract;
// directory-walk style grounded on the teacher's cache.PersistentCache
// index maintenance.
package eviction

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/objectmount/objectmount/internal/metadata"
	"github.com/objectmount/objectmount/pkg/apierr"
)

const defaultScanPeriod = 30 * time.Second

// Governor is the narrow cachesize.Governor slice this package needs.
type Governor interface {
	Shrink(n uint64)
}

// Evictor lets the scanner ask C5 whether a given api_path's OpenFile can
// be evicted (spec §4.7: "ask C5 to evict, succeeds only if
// !processing && handles = 0 && !pinned").
type Evictor interface {
	// TryEvict returns true if apiPath had no open handles and was not
	// mid-modification, and so is safe to delete from disk. The pinned
	// test is made by the scanner before TryEvict is called.
	TryEvict(apiPath string) bool
}

// Uploader lets the scanner consult C6's pending/active tables as part of
// the "never evict while processing" test.
type Uploader interface {
	Pending(apiPath string) bool
}

// RefMode selects which timestamp counts as the reference for the idle
// check (spec §4.7: "accessed or modified, configurable").
type RefMode int

const (
	RefAccessed RefMode = iota
	RefModified
)

type Config struct {
	CacheDir      string
	ScanPeriod    time.Duration
	EvictionDelay time.Duration
	RefMode       RefMode
}

// Scanner runs the C7 background loop.
type Scanner struct {
	cfg      Config
	meta     *metadata.Store
	governor Governor
	evictor  Evictor
	uploader Uploader

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, meta *metadata.Store, governor Governor, evictor Evictor, uploader Uploader) *Scanner {
	if cfg.ScanPeriod <= 0 {
		cfg.ScanPeriod = defaultScanPeriod
	}
	return &Scanner{
		cfg:      cfg,
		meta:     meta,
		governor: governor,
		evictor:  evictor,
		uploader: uploader,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scanner) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scanner) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

// scanOnce implements one pass of §4.7's per-scan algorithm.
func (s *Scanner) scanOnce() {
	entries, err := os.ReadDir(s.cfg.CacheDir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		sourcePath := filepath.Join(s.cfg.CacheDir, de.Name())
		s.evaluate(sourcePath)
	}
}

func (s *Scanner) evaluate(sourcePath string) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return
	}

	apiPath, ok := s.meta.APIPathForSource(sourcePath)
	if !ok {
		// Orphan: nothing in the metadata store points at this file.
		size := uint64(info.Size())
		if os.Remove(sourcePath) == nil {
			s.governor.Shrink(size)
		}
		return
	}

	apiFile, code := s.meta.Get(apiPath)
	if code != apierr.Success {
		return
	}
	if apiFile.Pinned {
		return
	}
	ref := apiFile.Modified
	if s.cfg.RefMode == RefAccessed {
		ref = apiFile.Accessed
	}
	if time.Since(ref) < s.cfg.EvictionDelay {
		return
	}

	if s.uploader != nil && s.uploader.Pending(apiPath) {
		return
	}
	if !s.evictor.TryEvict(apiPath) {
		return
	}

	size := uint64(info.Size())
	if os.Remove(sourcePath) == nil {
		s.governor.Shrink(size)
	}
}
