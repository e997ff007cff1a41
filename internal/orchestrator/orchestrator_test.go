package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seanblong/ziri/internal/config"
	"github.com/seanblong/ziri/internal/query"
)

func writeSourceTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "math.py"), []byte("def multiply(x, y):\n    return x * y\n"), 0644); err != nil {
		t.Fatalf("write math.py: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "strings.go"), []byte("package strings\n\nfunc Reverse(s string) string {\n\treturn s\n}\n"), 0644); err != nil {
		t.Fatalf("write strings.go: %v", err)
	}
}

func newTestOrchestrator(t *testing.T, home string) *Orchestrator {
	t.Helper()
	cfg := config.Specification{
		Provider: "stub", Home: home, Concurrency: 2, BatchSize: 8, MemoryLimit: 512, Dim: 8,
	}
	o, err := NewBuilder().WithConfig(cfg).Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return o
}

func TestIndexThenQueryFindsIndexedFunction(t *testing.T) {
	repoDir := t.TempDir()
	home := t.TempDir()
	writeSourceTree(t, repoDir)

	o := newTestOrchestrator(t, home)

	summary, err := o.Index(context.Background(), repoDir, "myrepo")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if summary.ChunksTotal == 0 {
		t.Fatal("expected at least one chunk to be indexed")
	}
	if o.State() != StateCompleted {
		t.Errorf("expected StateCompleted, got %s", o.State())
	}

	results, err := o.Query(context.Background(), "multiply", 5, query.Scope{Kind: query.ScopeAll})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
}

func TestUpdateReindexesAfterFileChange(t *testing.T) {
	repoDir := t.TempDir()
	home := t.TempDir()
	writeSourceTree(t, repoDir)

	o := newTestOrchestrator(t, home)
	first, err := o.Index(context.Background(), repoDir, "myrepo")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(repoDir, "math.py"), []byte("def multiply(x, y):\n    return x * y\n\ndef divide(x, y):\n    return x / y\n"), 0644); err != nil {
		t.Fatalf("rewrite math.py: %v", err)
	}

	second, err := o.Update(context.Background(), "myrepo", first.RepoID)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if second.FilesChanged == 0 {
		t.Errorf("expected Update to detect the modified file, got %+v", second)
	}
	if second.ChunksTotal < first.ChunksTotal {
		t.Errorf("expected chunk count to grow after adding a function, first=%d second=%d", first.ChunksTotal, second.ChunksTotal)
	}
}

func TestDeleteRepositoryRemovesStore(t *testing.T) {
	repoDir := t.TempDir()
	home := t.TempDir()
	writeSourceTree(t, repoDir)

	o := newTestOrchestrator(t, home)
	summary, err := o.Index(context.Background(), repoDir, "myrepo")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	if err := o.DeleteRepository("myrepo", summary.RepoID); err != nil {
		t.Fatalf("DeleteRepository failed: %v", err)
	}
	if o.storageM.Exists("myrepo", summary.RepoID) {
		t.Error("expected repository store to be removed")
	}
}
