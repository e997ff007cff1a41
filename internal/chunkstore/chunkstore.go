// Package chunkstore is the durable vector-id ↔ chunk-record table: a
// JSON table appended during indexing and fully rewritten (write-to-
// tmp + rename) whenever the paired vector index is rebuilt on
// removal.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/internal/storage"
	"github.com/seanblong/ziri/pkg/models"
)

// Issue is one inconsistency reported by Validate, without mutating
// store state.
type Issue struct {
	Kind   string
	Detail string
}

// Store holds chunk records indexed by vector id (records[i].VectorID
// == i always holds for a consistent store).
type Store struct {
	path   string
	cipher storage.Cipher

	mu      sync.RWMutex
	records []models.ChunkRecord
}

// Open loads an existing records file, or starts an empty Store if
// none exists yet. A nil cipher uses storage.PlainCipher.
func Open(path string, cipher storage.Cipher) (*Store, error) {
	if cipher == nil {
		cipher = storage.PlainCipher{}
	}
	s := &Store{path: path, cipher: cipher}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errs.Wrap(errs.KindStorage, "read chunk record store", err)
	}
	plain, err := cipher.Decrypt(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "decrypt chunk record store", err)
	}
	var records []models.ChunkRecord
	if len(plain) > 0 {
		if err := json.Unmarshal(plain, &records); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "parse chunk record store", errs.ErrCorrupt)
		}
	}
	s.records = records
	return s, nil
}

// Len reports how many records the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Append adds one record at vectorID, which must equal the store's
// current length — records are always appended in the same order
// vector ids are assigned by the paired vectorindex.Index.
func (s *Store) Append(vectorID uint32, rec models.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(vectorID) != len(s.records) {
		return errs.New(errs.KindStorage, fmt.Sprintf(
			"chunkstore: out-of-order append, vectorID=%d want=%d", vectorID, len(s.records)))
	}
	rec.VectorID = vectorID
	s.records = append(s.records, rec)
	return nil
}

// RewriteAll replaces the entire record set, used after a
// vectorindex.Index.Remove rebuild reassigns dense vector ids. The
// caller is responsible for renumbering VectorID on each record to
// match the rebuilt index before calling this.
func (s *Store) RewriteAll(records []models.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	return nil
}

// Lookup returns the record at vectorID, if any.
func (s *Store) Lookup(vectorID uint32) (models.ChunkRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(vectorID) >= len(s.records) {
		return models.ChunkRecord{}, false
	}
	return s.records[vectorID], true
}

// All returns a snapshot copy of every record.
func (s *Store) All() []models.ChunkRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChunkRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Save atomically persists the current record set via write-to-tmp +
// rename.
func (s *Store) Save() error {
	s.mu.RLock()
	plain, err := json.Marshal(s.records)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	cipherText, err := s.cipher.Encrypt(plain)
	if err != nil {
		return errs.Wrap(errs.KindStorage, "encrypt chunk record store", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, cipherText, 0644); err != nil {
		return errs.Wrap(errs.KindStorage, "write chunk record store", err)
	}
	return os.Rename(tmp, s.path)
}

// Validate recomputes counts against the paired vector index's
// ntotal and scans for duplicate ChunkIds.
// It reports issues without mutating state.
func (s *Store) Validate(indexCount int) []Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issues []Issue
	if len(s.records) != indexCount {
		issues = append(issues, Issue{
			Kind:   "count_mismatch",
			Detail: fmt.Sprintf("records=%d index.ntotal=%d", len(s.records), indexCount),
		})
	}

	seen := make(map[string]bool, len(s.records))
	for i, r := range s.records {
		if int(r.VectorID) != i {
			issues = append(issues, Issue{
				Kind:   "vector_id_mismatch",
				Detail: fmt.Sprintf("record at position %d has VectorID %d", i, r.VectorID),
			})
		}
		if seen[r.ChunkID] {
			issues = append(issues, Issue{Kind: "duplicate_chunk_id", Detail: r.ChunkID})
		}
		seen[r.ChunkID] = true
	}
	return issues
}
