// Package query implements the embed-query → search → join →
// rank-boost → enrich pipeline over the in-process vector index,
// applying function/class-name lexical boosts on top of the raw
// cosine ranking.
package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/seanblong/ziri/internal/chunkstore"
	"github.com/seanblong/ziri/internal/embedprovider"
	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/internal/vectorindex"
	"github.com/seanblong/ziri/pkg/models"
)

// ScopeKind selects which repositories a query searches.
type ScopeKind string

const (
	ScopeCurrent ScopeKind = "current"
	ScopeSet     ScopeKind = "set"
	ScopeAll     ScopeKind = "all"
)

// Scope names the repository set a query searches.
type Scope struct {
	Kind    ScopeKind
	RepoIDs []string
}

// RepoHandle bundles one repository's open vector index, chunk record
// store, and metadata for the query engine to search and enrich.
type RepoHandle struct {
	Repo    models.Repository
	Index   *vectorindex.Index
	Records *chunkstore.Store
}

const (
	functionBoost = 1.2
	classBoost    = 1.15
	contextLines  = 2
)

// Resolver resolves a Scope to the set of repositories to search,
// supplied by the orchestrator (which alone knows what's on disk).
type Resolver func(scope Scope) ([]*RepoHandle, error)

// Engine is the query-time half of the pipeline; Provider must be the
// same embedding provider the repositories being searched were
// indexed with.
type Engine struct {
	Provider embedprovider.Client
	Resolve  Resolver
	lineCache *lru.Cache[string, []string]
}

// NewEngine constructs an Engine. cacheSize bounds the LRU file-lines
// cache used to attach surrounding context across repeated enrich
// calls within one query.
func NewEngine(provider embedprovider.Client, resolve Resolver, cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{Provider: provider, Resolve: resolve, lineCache: cache}, nil
}

type scored struct {
	models.SearchResult
	vectorID uint32
}

// Query embeds q, searches every repository in scope, applies the
// function/class-name boosts, and returns the globally top-k enriched
// results. It never returns an error because a chunk lacks rich
// metadata — such records degrade to the legacy shape.
func (e *Engine) Query(ctx context.Context, q string, k int, scope Scope) ([]models.SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errs.New(errs.KindInput, "query text is required")
	}
	if k <= 0 {
		k = 10
	}

	repos, err := e.Resolve(scope)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return []models.SearchResult{}, nil
	}

	vecs, _, err := e.Provider.Embed(ctx, []string{q})
	if err != nil {
		return nil, errs.Wrap(errs.KindProvider, "embed query", err)
	}
	if len(vecs) == 0 {
		return nil, errs.New(errs.KindProvider, "embedding provider returned no vector")
	}
	qvec := vecs[0]

	var all []scored
	lowerQ := strings.ToLower(q)
	for _, rh := range repos {
		if rh.Repo.Dimensions != 0 && len(qvec) != rh.Repo.Dimensions {
			return nil, errs.Wrap(errs.KindInput, fmt.Sprintf(
				"repository %s was indexed with %d-dim %s vectors, query provider produced %d dims",
				rh.Repo.ID, rh.Repo.Dimensions, rh.Repo.EmbeddingProvider, len(qvec)), errs.ErrProviderMismatch)
		}

		hits, err := rh.Index.Search(qvec, k)
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, "search repository "+rh.Repo.ID, err)
		}
		for _, hit := range hits {
			rec, ok := rh.Records.Lookup(hit.ID)
			if !ok {
				continue
			}
			all = append(all, e.enrich(rh.Repo, rec, hit, lowerQ))
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].vectorID < all[j].vectorID
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]models.SearchResult, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].SearchResult
	}
	return out, nil
}

func (e *Engine) enrich(repo models.Repository, rec models.ChunkRecord, hit vectorindex.Result, lowerQ string) scored {
	if rec.IsLegacy() {
		return scored{
			SearchResult: models.SearchResult{
				Score: float64(hit.Score), RepoID: repo.ID, File: rec.FilePath, Legacy: true,
			},
			vectorID: hit.ID,
		}
	}

	adjusted := float64(hit.Score)
	if rec.FunctionName != "" && strings.Contains(lowerQ, strings.ToLower(rec.FunctionName)) {
		adjusted *= functionBoost
	}
	if rec.ClassName != "" && strings.Contains(lowerQ, strings.ToLower(rec.ClassName)) {
		adjusted *= classBoost
	}
	if adjusted > 1.0 {
		adjusted = 1.0
	}

	before, after := e.surroundingLines(repo.Path, rec.FilePath, rec.StartLine, rec.EndLine)

	return scored{
		SearchResult: models.SearchResult{
			Score:         adjusted,
			RepoID:        repo.ID,
			File:          rec.FilePath,
			Lines:         fmt.Sprintf("%d-%d", rec.StartLine, rec.EndLine),
			Content:       rec.Content,
			Language:      rec.Language,
			Type:          rec.Type,
			FunctionName:  rec.FunctionName,
			ClassName:     rec.ClassName,
			Imports:       rec.Imports,
			Signature:     rec.Signature,
			ContextBefore: before,
			ContextAfter:  after,
			Explanation:   explain(rec),
		},
		vectorID: hit.ID,
	}
}

// surroundingLines reads up to contextLines lines immediately before
// startLine and after endLine from the original file, using the LRU
// line cache keyed by absolute path. Degrades to nil, nil if the file
// is no longer present.
func (e *Engine) surroundingLines(repoPath, relPath string, startLine, endLine int) ([]string, []string) {
	abs := filepath.Join(repoPath, relPath)

	lines, ok := e.lineCache.Get(abs)
	if !ok {
		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, nil
		}
		lines = strings.Split(string(content), "\n")
		e.lineCache.Add(abs, lines)
	}

	before := clampLines(lines, startLine-1-contextLines, startLine-1)
	after := clampLines(lines, endLine, endLine+contextLines)
	return before, after
}

func clampLines(lines []string, lo, hi int) []string {
	if lo < 0 {
		lo = 0
	}
	if hi > len(lines) {
		hi = len(lines)
	}
	if lo >= hi {
		return nil
	}
	out := make([]string, hi-lo)
	copy(out, lines[lo:hi])
	return out
}

func explain(rec models.ChunkRecord) string {
	switch {
	case rec.FunctionName != "":
		return fmt.Sprintf("%s function %q in %s (lines %d-%d)", rec.Language, rec.FunctionName, rec.FilePath, rec.StartLine, rec.EndLine)
	case rec.ClassName != "":
		return fmt.Sprintf("%s class %q in %s (lines %d-%d)", rec.Language, rec.ClassName, rec.FilePath, rec.StartLine, rec.EndLine)
	default:
		return fmt.Sprintf("%s %s in %s (lines %d-%d)", rec.Language, rec.Type, rec.FilePath, rec.StartLine, rec.EndLine)
	}
}
