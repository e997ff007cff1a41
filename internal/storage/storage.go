// Package storage owns the on-disk, per-repository directory layout:
// manifest, metadata, vector index, chunk records, and checkpoints,
// all rooted under ZIRI_HOME. It enforces single-writer access per
// repository with gofrs/flock and applies an optional pluggable
// Cipher to the JSON state it writes.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/pkg/models"
)

const lockFileName = ".lock"

var aliasSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeAlias keeps only [A-Za-z0-9_-], truncates to 64 characters,
// and falls back to "repo" for an empty result.
func SanitizeAlias(name string) string {
	cleaned := aliasSanitizer.ReplaceAllString(name, "")
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	if cleaned == "" {
		return "repo"
	}
	return cleaned
}

// DirName builds the "<alias>--<id[:6]>" store directory name.
func DirName(alias, id string) string {
	short := id
	if len(short) > 6 {
		short = short[:6]
	}
	return fmt.Sprintf("%s--%s", alias, short)
}

// Manager resolves repository store directories under home and
// performs whole-repository lifecycle operations (create/open/delete/
// list/stats). It holds no per-repository state itself.
type Manager struct {
	home   string
	cipher Cipher
}

// NewManager constructs a Manager rooted at home. A nil cipher uses
// PlainCipher.
func NewManager(home string, cipher Cipher) *Manager {
	if cipher == nil {
		cipher = PlainCipher{}
	}
	return &Manager{home: home, cipher: cipher}
}

func (m *Manager) reposDir() string { return filepath.Join(m.home, "repos") }

// Dir returns the absolute store directory for (alias, id), whether or
// not it exists yet.
func (m *Manager) Dir(alias, id string) string {
	return filepath.Join(m.reposDir(), DirName(alias, id))
}

// Exists reports whether a store directory has been initialized for
// (alias, id).
func (m *Manager) Exists(alias, id string) bool {
	fi, err := os.Stat(filepath.Join(m.Dir(alias, id), "metadata", "index.json"))
	return err == nil && !fi.IsDir()
}

// Create initializes the directory tree for a new repository and
// writes its initial metadata record. It acquires the write lock and
// returns an already-locked RepoStore; callers must Close it.
func (m *Manager) Create(meta models.Repository) (*RepoStore, error) {
	dir := m.Dir(meta.Alias, meta.ID)
	for _, sub := range []string{"db", "vectors", "metadata", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "create repo directory", err)
		}
	}

	rs, err := m.open(dir, true)
	if err != nil {
		return nil, err
	}
	if err := rs.WriteMetadata(meta); err != nil {
		rs.Close()
		return nil, err
	}
	if err := rs.WriteManifest(map[string]models.FileRecord{}); err != nil {
		rs.Close()
		return nil, err
	}
	return rs, nil
}

// Open acquires the store for (alias, id). write requests the
// exclusive single-writer lock; read-only callers (queries) pass
// write=false and never block on a concurrent writer, observing
// whatever snapshot is currently committed on disk.
func (m *Manager) Open(alias, id string, write bool) (*RepoStore, error) {
	dir := m.Dir(alias, id)
	if !m.Exists(alias, id) {
		return nil, errs.New(errs.KindStorage, fmt.Sprintf("repository not found: %s", dir))
	}
	return m.open(dir, write)
}

func (m *Manager) open(dir string, write bool) (*RepoStore, error) {
	rs := &RepoStore{Dir: dir, cipher: m.cipher}
	if write {
		lock := flock.New(filepath.Join(dir, lockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "acquire repository lock", err)
		}
		if !locked {
			return nil, errs.New(errs.KindStorage, "repository is locked by another writer")
		}
		rs.lock = lock
	}
	return rs, nil
}

// Delete removes all on-disk state for (alias, id).
func (m *Manager) Delete(alias, id string) error {
	dir := m.Dir(alias, id)
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return errs.Wrap(errs.KindStorage, "acquire repository lock for delete", err)
	}
	if !locked {
		return errs.New(errs.KindStorage, "repository is locked by another writer")
	}
	defer lock.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.KindStorage, "delete repository directory", err)
	}
	return nil
}

// Stats summarizes one repository's on-disk state for List/Stats.
type Stats struct {
	Alias       string
	ID          string
	Path        string
	TotalChunks int
	Dimensions  int
	Provider    string
	LastIndexed string
}

// Stats reads a repository's metadata record without locking.
func (m *Manager) Stats(alias, id string) (Stats, error) {
	rs, err := m.open(m.Dir(alias, id), false)
	if err != nil {
		return Stats{}, err
	}
	meta, err := rs.ReadMetadata()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Alias:       meta.Alias,
		ID:          meta.ID,
		Path:        meta.Path,
		TotalChunks: meta.TotalChunks,
		Dimensions:  meta.Dimensions,
		Provider:    meta.EmbeddingProvider,
		LastIndexed: meta.LastIndexed.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// List enumerates every initialized repository store under home,
// sorted by directory name for deterministic output.
func (m *Manager) List() ([]Stats, error) {
	entries, err := os.ReadDir(m.reposDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindStorage, "list repos dir", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		alias, id, ok := splitDirName(name)
		if !ok {
			continue
		}
		st, err := m.Stats(alias, id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func splitDirName(name string) (alias, idPrefix string, ok bool) {
	idx := strings.LastIndex(name, "--")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+2:], true
}

// RepoStore is one opened repository's file handles. It owns the
// vector index, record table, manifest, and checkpoint directory
// exclusively while locked for writing.
type RepoStore struct {
	Dir    string
	cipher Cipher
	lock   *flock.Flock
}

// Close releases the write lock, if held.
func (r *RepoStore) Close() error {
	if r.lock != nil {
		return r.lock.Unlock()
	}
	return nil
}

func (r *RepoStore) ManifestPath() string     { return filepath.Join(r.Dir, "db", "index.json") }
func (r *RepoStore) MetadataPath() string     { return filepath.Join(r.Dir, "metadata", "index.json") }
func (r *RepoStore) VectorIndexPath() string  { return filepath.Join(r.Dir, "vectors", "embeddings.db") }
func (r *RepoStore) RecordsPath() string {
	return filepath.Join(r.Dir, "vectors", "embeddings.db-records.json")
}
func (r *RepoStore) CheckpointsDir() string { return filepath.Join(r.Dir, "checkpoints") }

// ReadMetadata loads the repository metadata record.
func (r *RepoStore) ReadMetadata() (models.Repository, error) {
	var meta models.Repository
	if err := r.readJSON(r.MetadataPath(), &meta); err != nil {
		return models.Repository{}, err
	}
	return meta, nil
}

// WriteMetadata atomically persists the repository metadata record.
func (r *RepoStore) WriteMetadata(meta models.Repository) error {
	return r.writeJSON(r.MetadataPath(), meta)
}

// ReadManifest loads the path→FileRecord manifest, returning an empty
// map if none exists yet.
func (r *RepoStore) ReadManifest() (map[string]models.FileRecord, error) {
	manifest := map[string]models.FileRecord{}
	if err := r.readJSON(r.ManifestPath(), &manifest); err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return nil, err
	}
	return manifest, nil
}

// WriteManifest atomically persists the path→FileRecord manifest.
func (r *RepoStore) WriteManifest(manifest map[string]models.FileRecord) error {
	return r.writeJSON(r.ManifestPath(), manifest)
}

func (r *RepoStore) readJSON(path string, into any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	plain, err := r.cipher.Decrypt(raw)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "decrypt "+filepath.Base(path), err)
	}
	if err := json.Unmarshal(plain, into); err != nil {
		return errs.Wrap(errs.KindStorage, "parse "+filepath.Base(path), errs.ErrCorrupt)
	}
	return nil
}

func (r *RepoStore) writeJSON(path string, v any) error {
	plain, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cipherText, err := r.cipher.Encrypt(plain)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "encrypt "+filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, cipherText, 0644); err != nil {
		return errs.Wrap(errs.KindStorage, "write "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindStorage, "rename "+filepath.Base(path), err)
	}
	return nil
}
