// Package metadata implements the metadata store (spec §3/§4, C2): the
// single authoritative mapping from api_path to ApiFile attributes plus the
// source_path reverse index. It is grounded on the directory_db design in
// the original C++ source (include/db/directory_db.hpp) but persisted the
// way the teacher repo persists its cache index — a JSON file under a data
// directory, replaced atomically on every mutation — rather than an
// embedded key-value store, since no such library appears anywhere in the
// example pack.
package metadata

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"github.com/objectmount/objectmount/pkg/apierr"
)

// ApiFile is the canonical per-path record (spec §3 Entity: ApiFile).
type ApiFile struct {
	APIPath         string    `json:"api_path"`
	Parent          string    `json:"parent"`
	Size            int64     `json:"size"`
	Created         time.Time `json:"created"`
	Modified        time.Time `json:"modified"`
	Accessed        time.Time `json:"accessed"`
	Changed         time.Time `json:"changed"`
	Directory       bool      `json:"directory"`
	EncryptionToken string    `json:"encryption_token,omitempty"`
	SourcePath      string    `json:"source_path,omitempty"`
	Pinned          bool      `json:"pinned"`
}

// FilesystemItem is the C4/C5 projection of an ApiFile, snapshotted at the
// time an OpenFile is created (spec §3 Entity: FilesystemItem).
type FilesystemItem struct {
	APIPath    string
	SourcePath string
	Size       int64
	Directory  bool
}

const indexFileName = "meta.json"

// Store is the process-wide metadata catalog. All reads/writes to ApiFile
// records funnel through it; every other component treats it as the single
// writer of authoritative attributes (spec §5 shared-resource policy).
type Store struct {
	mu         sync.RWMutex
	dbDir      string
	byPath     map[string]*ApiFile
	bySource   map[string]string // source_path -> api_path
	totalItems uint64
	totalSize  uint64
}

// New opens (or initializes) the metadata store rooted at dbDir, creating
// the root "/" entry if this is a fresh catalog.
func New(dbDir string) (*Store, error) {
	if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, err
	}
	s := &Store{
		dbDir:    dbDir,
		byPath:   make(map[string]*ApiFile),
		bySource: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	if _, ok := s.byPath["/"]; !ok {
		root := &ApiFile{
			APIPath:   "/",
			Parent:    "",
			Directory: true,
			Created:   time.Now(),
			Modified:  time.Now(),
			Accessed:  time.Now(),
			Changed:   time.Now(),
		}
		s.byPath["/"] = root
		s.totalItems = 1
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dbDir, indexFileName)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var files []*ApiFile
	if err := json.Unmarshal(data, &files); err != nil {
		return err
	}
	for _, f := range files {
		s.byPath[f.APIPath] = f
		if f.SourcePath != "" {
			s.bySource[f.SourcePath] = f.APIPath
		}
		s.totalItems++
		s.totalSize += uint64(f.Size)
	}
	return nil
}

// persist must be called with s.mu held (read or write) and writes the
// whole catalog out atomically via a temp-file-then-rename, grounded on the
// calvinalkan-agent-task example's use of natefinch/atomic for crash-safe
// config writes.
func (s *Store) persist() error {
	files := make([]*ApiFile, 0, len(s.byPath))
	for _, f := range s.byPath {
		files = append(files, f)
	}
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.indexPath(), bytes.NewReader(data))
}

// ParentOf returns the canonical parent of a forward-slash api_path,
// matching the invariant `parent == parent-of(api_path)`.
func ParentOf(apiPath string) string {
	if apiPath == "/" {
		return ""
	}
	p := path.Dir(apiPath)
	if p == "." {
		p = "/"
	}
	return p
}

// Get returns a copy of the ApiFile for apiPath, or NotFound.
func (s *Store) Get(apiPath string) (ApiFile, apierr.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byPath[apiPath]
	if !ok {
		return ApiFile{}, apierr.NotFound
	}
	return *f, apierr.Success
}

// Exists reports whether apiPath has a catalog entry.
func (s *Store) Exists(apiPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPath[apiPath]
	return ok
}

// APIPathForSource resolves a cache source_path back to its owning
// api_path, used by the eviction scanner to identify orphans (spec §4.7).
func (s *Store) APIPathForSource(sourcePath string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.bySource[sourcePath]
	return p, ok
}

// CreateFile inserts a new zero-length, non-directory entry at apiPath.
func (s *Store) CreateFile(apiPath string) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPath[apiPath]; ok {
		return apierr.Exists
	}
	now := time.Now()
	s.byPath[apiPath] = &ApiFile{
		APIPath:  apiPath,
		Parent:   ParentOf(apiPath),
		Created:  now,
		Modified: now,
		Accessed: now,
		Changed:  now,
	}
	s.totalItems++
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

// CreateDirectory inserts a new directory entry at apiPath.
func (s *Store) CreateDirectory(apiPath string) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPath[apiPath]; ok {
		return apierr.Exists
	}
	now := time.Now()
	s.byPath[apiPath] = &ApiFile{
		APIPath:   apiPath,
		Parent:    ParentOf(apiPath),
		Directory: true,
		Created:   now,
		Modified:  now,
		Accessed:  now,
		Changed:   now,
	}
	s.totalItems++
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

// SetSourcePath records that apiPath is now backed by sourcePath on disk,
// updating the reverse index used by eviction.
func (s *Store) SetSourcePath(apiPath, sourcePath string) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byPath[apiPath]
	if !ok {
		return apierr.NotFound
	}
	if f.SourcePath != "" {
		delete(s.bySource, f.SourcePath)
	}
	f.SourcePath = sourcePath
	if sourcePath != "" {
		s.bySource[sourcePath] = apiPath
	}
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

// UpdateSize sets the size and refreshes modified/changed timestamps,
// mirroring the full-file strategy's "on any size change, update
// mtime/ctime" rule (spec §4.2).
func (s *Store) UpdateSize(apiPath string, size int64) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byPath[apiPath]
	if !ok {
		return apierr.NotFound
	}
	s.totalSize = s.totalSize - uint64(f.Size) + uint64(size)
	f.Size = size
	now := time.Now()
	f.Modified = now
	f.Changed = now
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

// Touch refreshes the accessed timestamp only.
func (s *Store) Touch(apiPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.byPath[apiPath]; ok {
		f.Accessed = time.Now()
		_ = s.persist()
	}
}

// SetPinned toggles the eviction-exempt flag for apiPath.
func (s *Store) SetPinned(apiPath string, pinned bool) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byPath[apiPath]
	if !ok {
		return apierr.NotFound
	}
	f.Pinned = pinned
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

// Remove deletes the catalog entry for apiPath and returns its prior
// source_path, if any, so the caller can reclaim the backing file.
func (s *Store) Remove(apiPath string) (sourcePath string, code apierr.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byPath[apiPath]
	if !ok {
		return "", apierr.NotFound
	}
	delete(s.byPath, apiPath)
	if f.SourcePath != "" {
		delete(s.bySource, f.SourcePath)
	}
	s.totalItems--
	s.totalSize -= uint64(f.Size)
	if err := s.persist(); err != nil {
		return f.SourcePath, apierr.IoError
	}
	return f.SourcePath, apierr.Success
}

// Rename moves the catalog entry (and any children, for directories) from
// one api_path to another, updating parent links.
func (s *Store) Rename(from, to string) apierr.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byPath[from]
	if !ok {
		return apierr.NotFound
	}
	if _, exists := s.byPath[to]; exists {
		return apierr.Exists
	}

	prefix := from + "/"
	moved := map[string]*ApiFile{}
	for p, item := range s.byPath {
		if p == from || (f.Directory && hasPrefix(p, prefix)) {
			moved[p] = item
		}
	}
	for p, item := range moved {
		delete(s.byPath, p)
		newPath := to + p[len(from):]
		item.APIPath = newPath
		item.Parent = ParentOf(newPath)
		item.Changed = time.Now()
		s.byPath[newPath] = item
		if item.SourcePath != "" {
			s.bySource[item.SourcePath] = newPath
		}
	}
	if err := s.persist(); err != nil {
		return apierr.IoError
	}
	return apierr.Success
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ListDirectory returns the direct children of apiPath.
func (s *Store) ListDirectory(apiPath string) ([]ApiFile, apierr.Code) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.byPath[apiPath]
	if !ok {
		return nil, apierr.NotFound
	}
	if !parent.Directory {
		return nil, apierr.IsFile
	}
	var out []ApiFile
	for _, f := range s.byPath {
		if f.APIPath != apiPath && f.Parent == apiPath {
			out = append(out, *f)
		}
	}
	return out, apierr.Success
}

// DirectoryEmpty reports whether apiPath (a directory) has zero children.
func (s *Store) DirectoryEmpty(apiPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.byPath {
		if f.APIPath != apiPath && f.Parent == apiPath {
			return false
		}
	}
	return true
}

// Stats returns the item/total-bytes counters for statfs.
func (s *Store) Stats() (items uint64, totalSize uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalItems, s.totalSize
}
