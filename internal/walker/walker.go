// Package walker traverses a repository tree with karrick/godirwalk,
// applying a default exclusion glob set plus any user-supplied
// patterns.
package walker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
)

// defaultExcludes is the baseline directory and extension exclusion
// set, expressed as globs.
var defaultExcludes = []string{
	"**/.git/**", "**/.hg/**", "**/.svn/**",
	"**/node_modules/**", "**/vendor/**",
	"**/.venv/**", "**/venv/**", "**/__pycache__/**",
	"**/target/**", "**/dist/**", "**/build/**", "**/out/**",
	"**/bin/**", "**/obj/**",
	"**/.terraform/**", "**/.gradle/**", "**/.m2/**",
	"**/.idea/**", "**/.vscode/**",
	"**/coverage/**", "**/.cache/**", "**/.pytest_cache/**",
	"**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif", "**/*.webp",
	"**/*.bmp", "**/*.ico", "**/*.svg", "**/*.pdf",
	"**/*.zip", "**/*.tar", "**/*.gz", "**/*.bz2", "**/*.7z", "**/*.rar",
	"**/*.exe", "**/*.dll", "**/*.so", "**/*.dylib", "**/*.bin",
	"**/*.lock", "**/*.min.js", "**/*.min.css",
}

// Filter decides whether a path should be skipped, compiling the
// default exclude set plus any extra patterns once at construction.
type Filter struct {
	patterns []string
}

// NewFilter compiles the default exclusion set plus extra glob patterns
// (e.g. from Specification.ExcludeGlobs) into a single Filter.
func NewFilter(extra []string) *Filter {
	patterns := make([]string, 0, len(defaultExcludes)+len(extra))
	patterns = append(patterns, defaultExcludes...)
	patterns = append(patterns, extra...)
	return &Filter{patterns: patterns}
}

// Skip reports whether path matches any exclude pattern. Paths are
// normalized to forward slashes before matching so the same glob set
// behaves the same on every platform.
func (f *Filter) Skip(path string) bool {
	norm := filepath.ToSlash(path)
	pathSegs := strings.Split(norm, "/")
	for _, pat := range f.patterns {
		if matchSegments(strings.Split(pat, "/"), pathSegs) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern and path segment-by-segment, treating a
// "**" segment as "zero or more path segments" (so a nested match like
// vendor/pkg/file.go is found regardless of how many segments precede
// or follow vendor) and every other segment via filepath.Match, which
// never crosses a "/" on its own.
func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	if ok, _ := filepath.Match(pat[0], path[0]); !ok {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

// Walk traverses root, invoking fn for every regular file whose path
// does not match the Filter. The Filter is evaluated against the path
// relative to root, not the raw absolute path godirwalk reports, so
// exclude patterns match at any nesting depth regardless of where root
// itself lives on disk. Directory entries and filtered paths are
// skipped before any I/O happens. Walking stops early if ctx is
// cancelled or fn returns an error.
func Walk(ctx context.Context, root string, filter *Filter, fn func(path string) error) error {
	return godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}

			if de != nil && de.IsDir() {
				if filter.Skip(rel + "/") {
					return filepath.SkipDir
				}
				return nil
			}
			if filter.Skip(rel) {
				return nil
			}
			return fn(path)
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
}
