// Package changeset classifies a walked repository snapshot against a
// previously stored manifest, and hashes file content the way a
// content-addressed indexer computes fingerprints.
package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/seanblong/ziri/pkg/models"
)

// HashFile returns the hex-encoded SHA-256 digest of a file's content,
// reading it once through a buffered copy into the hash rather than
// loading the whole file into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Detect is a pure function comparing the current manifest (path→hash,
// produced by the walker plus HashFile) against the previous manifest
// stored in a Repository record. It performs no I/O.
func Detect(current, previous map[string]string) models.ChangeSet {
	var cs models.ChangeSet

	for path, hash := range current {
		prevHash, existed := previous[path]
		switch {
		case !existed:
			cs.Added = append(cs.Added, path)
		case prevHash != hash:
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Unchanged = append(cs.Unchanged, path)
		}
	}
	for path := range previous {
		if _, stillExists := current[path]; !stillExists {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	return cs
}
