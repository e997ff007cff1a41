package changeset

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestHashFileIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("HashFile not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestHashFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	os.WriteFile(path, []byte("v1"), 0644)
	h1, _ := HashFile(path)

	os.WriteFile(path, []byte("v2"), 0644)
	h2, _ := HashFile(path)

	if h1 == h2 {
		t.Error("expected different hashes for different content")
	}
}

func TestDetectClassifiesAllFourCategories(t *testing.T) {
	previous := map[string]string{
		"a.go": "hash-a",
		"b.go": "hash-b",
		"c.go": "hash-c",
	}
	current := map[string]string{
		"a.go": "hash-a",      // unchanged
		"b.go": "hash-b-new",  // modified
		"d.go": "hash-d",      // added
	}

	cs := Detect(current, previous)

	if !contains(cs.Unchanged, "a.go") {
		t.Errorf("expected a.go in Unchanged, got %v", cs.Unchanged)
	}
	if !contains(cs.Modified, "b.go") {
		t.Errorf("expected b.go in Modified, got %v", cs.Modified)
	}
	if !contains(cs.Deleted, "c.go") {
		t.Errorf("expected c.go in Deleted, got %v", cs.Deleted)
	}
	if !contains(cs.Added, "d.go") {
		t.Errorf("expected d.go in Added, got %v", cs.Added)
	}
}

func TestDetectEmptyPreviousMarksEverythingAdded(t *testing.T) {
	current := map[string]string{"a.go": "h1", "b.go": "h2"}
	cs := Detect(current, nil)

	sort.Strings(cs.Added)
	if len(cs.Added) != 2 || cs.Added[0] != "a.go" || cs.Added[1] != "b.go" {
		t.Errorf("expected both files added, got %v", cs.Added)
	}
	if len(cs.Modified) != 0 || len(cs.Deleted) != 0 || len(cs.Unchanged) != 0 {
		t.Errorf("expected only additions, got %+v", cs)
	}
}

func TestDetectEmptyCurrentMarksEverythingDeleted(t *testing.T) {
	previous := map[string]string{"a.go": "h1", "b.go": "h2"}
	cs := Detect(nil, previous)

	sort.Strings(cs.Deleted)
	if len(cs.Deleted) != 2 || cs.Deleted[0] != "a.go" || cs.Deleted[1] != "b.go" {
		t.Errorf("expected both files deleted, got %v", cs.Deleted)
	}
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
