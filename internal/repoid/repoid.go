// Package repoid computes a stable identifier for an indexed repository.
// It is VCS-aware via go-git/go-git/v5: the id is derived from the
// repository's origin remote and root commit when available, falling
// back to the absolute path otherwise.
package repoid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Compute resolves a stable, filesystem-safe identifier for the
// repository rooted at path. It opens the repo at or above path with
// go-git, reads the origin remote URL (falling back to the first
// configured remote, then to no remote), and walks HEAD's commit graph
// to its root commit. If path is not inside a repository, or neither a
// remote URL nor a root commit can be read, it falls back to hashing the
// absolute path; a repository with only one of the two hashes
// remote+"|"+root with the missing side empty.
func Compute(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return hashID(abs), nil
	}

	remote := remoteURL(repo)
	root := rootCommitHash(repo)

	if remote == "" && root == "" {
		return hashID(abs), nil
	}
	return hashID(remote + "|" + root), nil
}

func remoteURL(repo *git.Repository) string {
	remotes, err := repo.Remotes()
	if err != nil || len(remotes) == 0 {
		return ""
	}
	for _, r := range remotes {
		if r.Config().Name == "origin" && len(r.Config().URLs) > 0 {
			return r.Config().URLs[0]
		}
	}
	if urls := remotes[0].Config().URLs; len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// rootCommitHash walks HEAD's ancestry to its end, following first
// parents, and returns the final (root) commit's hash.
func rootCommitHash(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return ""
	}
	for {
		parent, err := firstParent(commit)
		if err != nil {
			break
		}
		commit = parent
	}
	return commit.Hash.String()
}

func firstParent(c *object.Commit) (*object.Commit, error) {
	if c.NumParents() == 0 {
		return nil, git.ErrObjectNotFound
	}
	return c.Parent(0)
}

func hashID(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}
