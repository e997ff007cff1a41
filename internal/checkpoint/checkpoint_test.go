package checkpoint

import (
	"os"
	"testing"
	"time"

	"github.com/seanblong/ziri/pkg/models"
)

func TestStartCreatesFreshCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 100, 5, nil)

	cp, err := m.Start("repo1", models.OpIndex)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cp.Completed {
		t.Error("expected a fresh checkpoint to be incomplete")
	}
	if len(cp.ProcessedFiles) != 0 {
		t.Error("expected a fresh checkpoint to have no processed files")
	}
}

func TestAdvanceTracksProgressAndSavesEveryN(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 2, 5, nil)

	if _, err := m.Start("repo1", models.OpIndex); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.Advance(models.CheckpointedFile{Path: "a.go", Hash: "h", ProcessedAt: time.Now()}); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}

	if m.cp.ProcessedCount != 3 {
		t.Errorf("expected ProcessedCount 3, got %d", m.cp.ProcessedCount)
	}

	entries, err := readCheckpointDir(m)
	if err != nil {
		t.Fatalf("readCheckpointDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 checkpoint file after 3 advances with N=2, got %d", len(entries))
	}
}

func TestCompleteRemovesCheckpointFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 1, 5, nil)

	if _, err := m.Start("repo1", models.OpIndex); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Advance(models.CheckpointedFile{Path: "a.go", Hash: "h"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := m.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	entries, err := readCheckpointDir(m)
	if err != nil {
		t.Fatalf("readCheckpointDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected checkpoint directory to be empty after Complete, got %d entries", len(entries))
	}
}

func TestResumeLoadsIncompleteCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager(dir, 1, 5, nil)

	if _, err := m1.Start("repo1", models.OpIndex); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m1.Advance(models.CheckpointedFile{Path: "a.go", Hash: "h1"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := m1.Advance(models.CheckpointedFile{Path: "b.go", Hash: "h2"}); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	m2 := NewManager(dir, 1, 5, nil)
	resumed, err := m2.Start("repo1", models.OpIndex)
	if err != nil {
		t.Fatalf("Start (resume) failed: %v", err)
	}
	if resumed.ProcessedCount != 2 {
		t.Errorf("expected resumed checkpoint to have ProcessedCount 2, got %d", resumed.ProcessedCount)
	}
	if !resumed.HasProcessed("a.go") || !resumed.HasProcessed("b.go") {
		t.Error("expected resumed checkpoint to report both files as processed")
	}
}

func TestCleanupEnforcesMaxKept(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 1, 2, nil)

	if _, err := m.Start("repo1", models.OpIndex); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := m.Advance(models.CheckpointedFile{Path: "a.go", Hash: "h"}); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := readCheckpointDir(m)
	if err != nil {
		t.Fatalf("readCheckpointDir failed: %v", err)
	}
	if len(entries) > 2 {
		t.Errorf("expected at most 2 checkpoint files retained, got %d", len(entries))
	}
}

func readCheckpointDir(m *Manager) ([]os.DirEntry, error) {
	return os.ReadDir(m.dir())
}
