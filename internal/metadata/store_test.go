package metadata

import (
	"testing"

	"github.com/objectmount/objectmount/pkg/apierr"
)

func TestNewSeedsRoot(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f, code := s.Get("/")
	if code != apierr.Success {
		t.Fatalf("Get(/) = %v, want Success", code)
	}
	if !f.Directory {
		t.Fatal("root entry is not a directory")
	}
}

func TestCreateFileRejectsDuplicate(t *testing.T) {
	s, _ := New(t.TempDir())
	if code := s.CreateFile("/a.txt"); code != apierr.Success {
		t.Fatalf("CreateFile = %v, want Success", code)
	}
	if code := s.CreateFile("/a.txt"); code != apierr.Exists {
		t.Fatalf("duplicate CreateFile = %v, want Exists", code)
	}
	f, _ := s.Get("/a.txt")
	if f.Parent != "/" {
		t.Fatalf("Parent = %q, want \"/\"", f.Parent)
	}
}

func TestCreateDirectoryAndListDirectory(t *testing.T) {
	s, _ := New(t.TempDir())
	if code := s.CreateDirectory("/dir"); code != apierr.Success {
		t.Fatalf("CreateDirectory = %v, want Success", code)
	}
	if code := s.CreateFile("/dir/a.txt"); code != apierr.Success {
		t.Fatalf("CreateFile = %v, want Success", code)
	}
	if code := s.CreateFile("/b.txt"); code != apierr.Success {
		t.Fatalf("CreateFile = %v, want Success", code)
	}

	entries, code := s.ListDirectory("/dir")
	if code != apierr.Success {
		t.Fatalf("ListDirectory = %v, want Success", code)
	}
	if len(entries) != 1 || entries[0].APIPath != "/dir/a.txt" {
		t.Fatalf("ListDirectory(/dir) = %+v, want [/dir/a.txt]", entries)
	}

	root, code := s.ListDirectory("/")
	if code != apierr.Success {
		t.Fatalf("ListDirectory(/) = %v, want Success", code)
	}
	if len(root) != 2 {
		t.Fatalf("ListDirectory(/) returned %d entries, want 2", len(root))
	}
}

func TestListDirectoryOnFileIsIsFile(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")
	if _, code := s.ListDirectory("/a.txt"); code != apierr.IsFile {
		t.Fatalf("ListDirectory(file) = %v, want IsFile", code)
	}
}

func TestSetSourcePathAndReverseLookup(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")

	if code := s.SetSourcePath("/a.txt", "/cache/uuid-1"); code != apierr.Success {
		t.Fatalf("SetSourcePath = %v, want Success", code)
	}
	got, ok := s.APIPathForSource("/cache/uuid-1")
	if !ok || got != "/a.txt" {
		t.Fatalf("APIPathForSource = (%q, %v), want (/a.txt, true)", got, ok)
	}

	// Re-pointing drops the old reverse-index entry.
	if code := s.SetSourcePath("/a.txt", "/cache/uuid-2"); code != apierr.Success {
		t.Fatalf("SetSourcePath(2) = %v, want Success", code)
	}
	if _, ok := s.APIPathForSource("/cache/uuid-1"); ok {
		t.Fatal("stale source_path still resolves after reassignment")
	}
	got, ok = s.APIPathForSource("/cache/uuid-2")
	if !ok || got != "/a.txt" {
		t.Fatalf("APIPathForSource(2) = (%q, %v), want (/a.txt, true)", got, ok)
	}
}

func TestUpdateSizeTracksTotals(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")

	if code := s.UpdateSize("/a.txt", 100); code != apierr.Success {
		t.Fatalf("UpdateSize = %v, want Success", code)
	}
	if code := s.UpdateSize("/a.txt", 40); code != apierr.Success {
		t.Fatalf("UpdateSize(shrink) = %v, want Success", code)
	}
	_, total := s.Stats()
	if total != 40 {
		t.Fatalf("Stats() total = %d, want 40", total)
	}
}

func TestRenameMovesSubtree(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateDirectory("/dir")
	s.CreateFile("/dir/a.txt")
	s.SetSourcePath("/dir/a.txt", "/cache/uuid-1")

	if code := s.Rename("/dir", "/moved"); code != apierr.Success {
		t.Fatalf("Rename = %v, want Success", code)
	}
	if s.Exists("/dir") || s.Exists("/dir/a.txt") {
		t.Fatal("old paths still exist after rename")
	}
	if !s.Exists("/moved") || !s.Exists("/moved/a.txt") {
		t.Fatal("renamed paths missing")
	}
	f, _ := s.Get("/moved/a.txt")
	if f.Parent != "/moved" {
		t.Fatalf("Parent after rename = %q, want /moved", f.Parent)
	}
	got, ok := s.APIPathForSource("/cache/uuid-1")
	if !ok || got != "/moved/a.txt" {
		t.Fatalf("reverse index after rename = (%q, %v), want (/moved/a.txt, true)", got, ok)
	}
}

func TestRenameRejectsExistingTarget(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")
	s.CreateFile("/b.txt")
	if code := s.Rename("/a.txt", "/b.txt"); code != apierr.Exists {
		t.Fatalf("Rename onto existing = %v, want Exists", code)
	}
}

func TestRemoveClearsReverseIndexAndTotals(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")
	s.UpdateSize("/a.txt", 10)
	s.SetSourcePath("/a.txt", "/cache/uuid-1")

	sourcePath, code := s.Remove("/a.txt")
	if code != apierr.Success {
		t.Fatalf("Remove = %v, want Success", code)
	}
	if sourcePath != "/cache/uuid-1" {
		t.Fatalf("Remove returned source_path %q, want /cache/uuid-1", sourcePath)
	}
	if s.Exists("/a.txt") {
		t.Fatal("entry still exists after Remove")
	}
	if _, ok := s.APIPathForSource("/cache/uuid-1"); ok {
		t.Fatal("reverse index entry survived Remove")
	}
	items, total := s.Stats()
	if items != 1 || total != 0 { // only "/" remains
		t.Fatalf("Stats() after Remove = (%d, %d), want (1, 0)", items, total)
	}
}

func TestDirectoryEmpty(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateDirectory("/dir")
	if !s.DirectoryEmpty("/dir") {
		t.Fatal("DirectoryEmpty(/dir) = false, want true")
	}
	s.CreateFile("/dir/a.txt")
	if s.DirectoryEmpty("/dir") {
		t.Fatal("DirectoryEmpty(/dir) = true after adding a child, want false")
	}
}

func TestSetPinnedAndTouch(t *testing.T) {
	s, _ := New(t.TempDir())
	s.CreateFile("/a.txt")

	if code := s.SetPinned("/a.txt", true); code != apierr.Success {
		t.Fatalf("SetPinned = %v, want Success", code)
	}
	f, _ := s.Get("/a.txt")
	if !f.Pinned {
		t.Fatal("Pinned not persisted")
	}

	before, _ := s.Get("/a.txt")
	s.Touch("/a.txt")
	after, _ := s.Get("/a.txt")
	if !after.Accessed.After(before.Accessed) && after.Accessed != before.Accessed {
		t.Fatal("Touch did not refresh Accessed")
	}
}

func TestOperationsOnMissingPathReturnNotFound(t *testing.T) {
	s, _ := New(t.TempDir())
	if code := s.SetSourcePath("/missing", "/x"); code != apierr.NotFound {
		t.Fatalf("SetSourcePath(missing) = %v, want NotFound", code)
	}
	if code := s.UpdateSize("/missing", 1); code != apierr.NotFound {
		t.Fatalf("UpdateSize(missing) = %v, want NotFound", code)
	}
	if code := s.SetPinned("/missing", true); code != apierr.NotFound {
		t.Fatalf("SetPinned(missing) = %v, want NotFound", code)
	}
	if _, code := s.Remove("/missing"); code != apierr.NotFound {
		t.Fatalf("Remove(missing) = %v, want NotFound", code)
	}
	if code := s.Rename("/missing", "/elsewhere"); code != apierr.NotFound {
		t.Fatalf("Rename(missing) = %v, want NotFound", code)
	}
	if _, code := s.ListDirectory("/missing"); code != apierr.NotFound {
		t.Fatalf("ListDirectory(missing) = %v, want NotFound", code)
	}
}

func TestReopenReloadsPersistedCatalog(t *testing.T) {
	dir := t.TempDir()
	s1, _ := New(dir)
	s1.CreateDirectory("/dir")
	s1.CreateFile("/dir/a.txt")
	s1.UpdateSize("/dir/a.txt", 7)
	s1.SetSourcePath("/dir/a.txt", "/cache/uuid-1")

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	f, code := s2.Get("/dir/a.txt")
	if code != apierr.Success {
		t.Fatalf("Get after reopen = %v, want Success", code)
	}
	if f.Size != 7 || f.SourcePath != "/cache/uuid-1" {
		t.Fatalf("reloaded entry = %+v, want size=7 source_path=/cache/uuid-1", f)
	}
	got, ok := s2.APIPathForSource("/cache/uuid-1")
	if !ok || got != "/dir/a.txt" {
		t.Fatalf("reverse index after reopen = (%q, %v), want (/dir/a.txt, true)", got, ok)
	}
}

func TestParentOf(t *testing.T) {
	cases := map[string]string{
		"/":        "",
		"/a.txt":   "/",
		"/dir/a":   "/dir",
		"/a/b/c":   "/a/b",
	}
	for apiPath, want := range cases {
		if got := ParentOf(apiPath); got != want {
			t.Errorf("ParentOf(%q) = %q, want %q", apiPath, got, want)
		}
	}
}
