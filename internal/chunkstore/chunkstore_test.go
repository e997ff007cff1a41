package chunkstore

import (
	"path/filepath"
	"testing"

	"github.com/seanblong/ziri/pkg/models"
)

func TestAppendLookupAndPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.db-records.json")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Append(0, models.ChunkRecord{ChunkID: "c1", FilePath: "a.go"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(1, models.ChunkRecord{ChunkID: "c2", FilePath: "a.go"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := s.Append(5, models.ChunkRecord{ChunkID: "c3"}); err == nil {
		t.Fatal("expected out-of-order append to fail")
	}

	rec, ok := s.Lookup(1)
	if !ok || rec.ChunkID != "c2" {
		t.Fatalf("expected Lookup(1) to find c2, got %+v ok=%v", rec, ok)
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 persisted records, got %d", reopened.Len())
	}
}

func TestRewriteAllAndValidate(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "records.json"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_ = s.Append(0, models.ChunkRecord{ChunkID: "a"})
	_ = s.Append(1, models.ChunkRecord{ChunkID: "b"})
	_ = s.Append(2, models.ChunkRecord{ChunkID: "c"})

	if issues := s.Validate(3); len(issues) != 0 {
		t.Errorf("expected no issues before mutation, got %v", issues)
	}

	// simulate a removal rebuild: drop "b", renumber survivors.
	if err := s.RewriteAll([]models.ChunkRecord{
		{VectorID: 0, ChunkID: "a"},
		{VectorID: 1, ChunkID: "c"},
	}); err != nil {
		t.Fatalf("RewriteAll failed: %v", err)
	}

	if s.Len() != 2 {
		t.Fatalf("expected 2 records after rewrite, got %d", s.Len())
	}
	if issues := s.Validate(2); len(issues) != 0 {
		t.Errorf("expected no issues after consistent rewrite, got %v", issues)
	}
}

func TestValidateDetectsDuplicatesAndCountMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "records.json"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.Append(0, models.ChunkRecord{ChunkID: "dup"})
	_ = s.Append(1, models.ChunkRecord{ChunkID: "dup"})

	issues := s.Validate(5)
	var sawDup, sawCount bool
	for _, iss := range issues {
		if iss.Kind == "duplicate_chunk_id" {
			sawDup = true
		}
		if iss.Kind == "count_mismatch" {
			sawCount = true
		}
	}
	if !sawDup {
		t.Error("expected duplicate_chunk_id issue")
	}
	if !sawCount {
		t.Error("expected count_mismatch issue")
	}
}
