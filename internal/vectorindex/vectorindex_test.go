package vectorindex

import (
	"path/filepath"
	"testing"
)

func unit(v ...float32) []float32 { return v }

func TestAddSearchOrdersByScoreThenID(t *testing.T) {
	ix := New(3)
	ids, err := ix.Add([][]float32{
		unit(1, 0, 0),
		unit(0, 1, 0),
		unit(1, 0, 0),
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("expected dense ids 0,1,2, got %v", ids)
	}

	results, err := ix.Search(unit(1, 0, 0), 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 0 || results[1].ID != 2 {
		t.Errorf("expected tie-break by id asc among equal scores, got %v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 score for exact match, got %f", results[0].Score)
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	ix := New(3)
	if _, err := ix.Add([][]float32{unit(1, 2)}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestRemoveReassignsDenseIDs(t *testing.T) {
	ix := New(2)
	_, err := ix.Add([][]float32{unit(1, 0), unit(0, 1), unit(1, 1)})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	remap, err := ix.Remove([]uint32{0})
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ix.Count() != 2 {
		t.Fatalf("expected 2 vectors remaining, got %d", ix.Count())
	}
	if remap[1] != 0 || remap[2] != 1 {
		t.Fatalf("expected remap {1:0, 2:1}, got %v", remap)
	}
	if _, ok := remap[0]; ok {
		t.Fatalf("removed id 0 should not appear in remap")
	}

	results, err := ix.Search(unit(0, 1), 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != 0 {
		t.Fatalf("expected surviving vector to land at new id 0, got %d", results[0].ID)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ix := New(2)
	if _, err := ix.Add([][]float32{unit(3, 4), unit(1, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.db")
	if err := ix.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 2 || loaded.Dim() != 2 {
		t.Fatalf("unexpected loaded index shape: count=%d dim=%d", loaded.Count(), loaded.Dim())
	}

	results, err := loaded.Search(unit(1, 0), 1)
	if err != nil {
		t.Fatalf("Search on loaded index failed: %v", err)
	}
	if results[0].ID != 1 {
		t.Fatalf("expected id 1 (the (1,0) vector) to rank first, got %d", results[0].ID)
	}
}

func TestSearchClipsScoreToUnitRange(t *testing.T) {
	ix := New(2)
	if _, err := ix.Add([][]float32{unit(-1, 0)}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	results, err := ix.Search(unit(1, 0), 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].Score != 0 {
		t.Errorf("expected negative cosine clipped to 0, got %f", results[0].Score)
	}
}
