// Package checkpoint persists resumable progress for an index/update
// operation, using a write-JSON-then-rename idiom so a crash never
// leaves a torn checkpoint file behind.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seanblong/ziri/internal/metrics"
	"github.com/seanblong/ziri/pkg/models"
)

const (
	defaultSaveEveryN = 100
	defaultMaxAge     = 24 * time.Hour
)

// Manager loads, advances, and persists a Checkpoint for one
// (repoID, opType) pair under home/checkpoints/<repoID>/<opType>/.
type Manager struct {
	home        string
	saveEveryN  int
	maxKept     int
	metrics     *metrics.Registry

	repoID  string
	opType  models.OpType
	cp      *models.Checkpoint
	sinceLast int
}

// NewManager constructs a Manager rooted at home (ZIRI_HOME). saveEveryN
// and maxKept fall back to their spec defaults (100, 5) when <= 0.
func NewManager(home string, saveEveryN, maxKept int, reg *metrics.Registry) *Manager {
	if saveEveryN <= 0 {
		saveEveryN = defaultSaveEveryN
	}
	if maxKept <= 0 {
		maxKept = 5
	}
	return &Manager{home: home, saveEveryN: saveEveryN, maxKept: maxKept, metrics: reg}
}

func (m *Manager) dir() string {
	return filepath.Join(m.home, "checkpoints", m.repoID, string(m.opType))
}

// Start loads the most recent incomplete checkpoint for (repoID,
// opType), or creates a fresh one if none exists.
func (m *Manager) Start(repoID string, opType models.OpType) (*models.Checkpoint, error) {
	m.repoID = repoID
	m.opType = opType
	m.sinceLast = 0

	dir := m.dir()
	entries, err := os.ReadDir(dir)
	if err == nil {
		latest := latestCheckpointFile(entries)
		if latest != "" {
			cp, err := load(filepath.Join(dir, latest))
			if err == nil && !cp.Completed && time.Since(cp.SavedAt) <= defaultMaxAge {
				cp.RepoID = repoID
				cp.OpType = opType
				m.cp = cp
				return cp, nil
			}
		}
	}

	cp := &models.Checkpoint{
		RepoID:    repoID,
		OpType:    opType,
		StartTime: time.Now(),
		SavedAt:   time.Now(),
	}
	m.cp = cp
	return cp, nil
}

// CurrentCheckpoint returns the in-progress checkpoint for the most
// recent Start call, or nil if none has been started.
func (m *Manager) CurrentCheckpoint() *models.Checkpoint {
	return m.cp
}

// Advance appends a processed file and triggers a save every N files.
func (m *Manager) Advance(file models.CheckpointedFile) error {
	if m.cp == nil {
		return fmt.Errorf("checkpoint: Advance called before Start")
	}
	m.cp.ProcessedFiles = append(m.cp.ProcessedFiles, file)
	m.cp.ProcessedCount++
	m.sinceLast++

	if m.sinceLast >= m.saveEveryN {
		if err := m.Save(); err != nil {
			return err
		}
		m.sinceLast = 0
	}
	return nil
}

// Save writes the current checkpoint to disk via a write-to-tmp +
// rename, and enforces Cleanup's retention limit.
func (m *Manager) Save() error {
	if m.cp == nil {
		return fmt.Errorf("checkpoint: Save called before Start")
	}
	m.cp.SavedAt = time.Now()

	dir := m.dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("checkpoint-%d.json", time.Now().UnixMilli())
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	b, err := json.MarshalIndent(m.cp, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.CheckpointSaves.Inc()
	}
	return m.Cleanup()
}

// Complete marks the checkpoint finished and removes the op's
// checkpoint directory contents.
func (m *Manager) Complete() error {
	if m.cp != nil {
		m.cp.Completed = true
	}
	dir := m.dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup enforces the retention limit on checkpoint files, removing
// the oldest first.
func (m *Manager) Cleanup() error {
	dir := m.dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	files := checkpointFiles(entries)
	if len(files) <= m.maxKept {
		return nil
	}
	sort.Strings(files)
	toRemove := files[:len(files)-m.maxKept]
	for _, f := range toRemove {
		if err := os.Remove(filepath.Join(dir, f)); err != nil {
			return err
		}
	}
	return nil
}

func load(path string) (*models.Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func checkpointFiles(entries []os.DirEntry) []string {
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			out = append(out, e.Name())
		}
	}
	return out
}

func latestCheckpointFile(entries []os.DirEntry) string {
	files := checkpointFiles(entries)
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool {
		return epochOf(files[i]) < epochOf(files[j])
	})
	return files[len(files)-1]
}

func epochOf(name string) int64 {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json")
	v, _ := strconv.ParseInt(trimmed, 10, 64)
	return v
}
