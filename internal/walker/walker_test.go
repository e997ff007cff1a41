package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestFilterSkipsDefaultExcludes(t *testing.T) {
	f := NewFilter(nil)

	cases := map[string]bool{
		"repo/.git/HEAD":                true,
		"repo/node_modules/lib/index.js": true,
		"repo/vendor/pkg/file.go":        true,
		"repo/dist/bundle.min.js":        true,
		"repo/assets/logo.png":           true,
		"repo/src/main.go":               false,
		"repo/README.md":                 false,
	}

	for path, want := range cases {
		if got := f.Skip(path); got != want {
			t.Errorf("Skip(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFilterHonorsExtraPatterns(t *testing.T) {
	f := NewFilter([]string{"**/testdata/**"})
	if !f.Skip("repo/internal/testdata/fixture.go") {
		t.Error("expected testdata path to be skipped")
	}
	if f.Skip("repo/internal/real.go") {
		t.Error("did not expect real.go to be skipped")
	}
}

func TestWalkVisitsOnlyIncludedFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "main.go"), "package main")
	mustWriteFile(t, filepath.Join(dir, "README.md"), "# hi")
	mustMkdir(t, filepath.Join(dir, "vendor"))
	mustWriteFile(t, filepath.Join(dir, "vendor", "dep.go"), "package dep")
	mustMkdir(t, filepath.Join(dir, ".git"))
	mustWriteFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main")

	var seen []string
	f := NewFilter(nil)
	err := Walk(context.Background(), dir, f, func(path string) error {
		rel, _ := filepath.Rel(dir, path)
		seen = append(seen, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	sort.Strings(seen)
	want := []string{"README.md", "main.go"}
	if len(seen) != len(want) {
		t.Fatalf("Walk visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Walk visited[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestWalkRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.go"), "package a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Walk(ctx, dir, NewFilter(nil), func(path string) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected Walk to fail after context cancellation")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%q) failed: %v", path, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("MkdirAll(%q) failed: %v", path, err)
	}
}
