// Command ziri is the unified CLI for the local semantic code index:
// index, update, query and delete a repository's store, as one
// subcommand dispatcher over a single binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/seanblong/ziri/internal/config"
	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/internal/orchestrator"
	"github.com/seanblong/ziri/internal/query"
)

func main() {
	fs := pflag.NewFlagSet("ziri", pflag.ExitOnError)
	alias := fs.String("alias", "", "Repository alias")
	id := fs.String("id", "", "Repository id, required for update/delete")
	k := fs.Int("k", 10, "Number of query results to return")
	scope := fs.String("scope", "current", "Query scope: current|set|all")
	repoIDs := fs.StringSlice("repo-ids", nil, "Repository ids for --scope=set")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ziri:", err)
		os.Exit(2)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	args := fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ziri <index|update|query|delete|list|stats> [flags]")
		os.Exit(2)
	}
	cmd := args[0]

	ctx := context.Background()

	switch cmd {
	case "index":
		exitOn(runIndex(ctx, cfg, logger, *alias))
	case "update":
		exitOn(runUpdate(ctx, cfg, logger, *alias, *id))
	case "query":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: ziri query \"<text>\" [--k N] [--scope current|all|set --repo-ids ...]")
			os.Exit(2)
		}
		exitOn(runQuery(ctx, cfg, strings.Join(args[1:], " "), *k, *scope, *repoIDs))
	case "delete":
		exitOn(runDelete(cfg, *alias, *id))
	case "list":
		exitOn(runList(cfg))
	case "stats":
		statsID := *id
		if statsID == "" && len(args) > 1 {
			statsID = args[1]
		}
		exitOn(runStats(cfg, *alias, statsID))
	default:
		fmt.Fprintf(os.Stderr, "ziri: unknown command %q\n", cmd)
		os.Exit(2)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "ziri:", err)
		os.Exit(errs.ExitCode(err))
	}
}

func build(ctx context.Context, cfg config.Specification) (*orchestrator.Orchestrator, error) {
	return orchestrator.NewBuilder().WithConfig(cfg).Build(ctx)
}

func runIndex(ctx context.Context, cfg config.Specification, logger zerolog.Logger, alias string) error {
	repoPath := cfg.RepoRoot
	if cfg.RepoURL != "" {
		dir, err := cloneToTemp(cfg.RepoURL, cfg.GitRef, cfg.GithubToken)
		if err != nil {
			return errs.Wrap(errs.KindInput, "clone repository", err)
		}
		defer os.RemoveAll(dir)
		repoPath = dir
	}
	if alias == "" {
		alias = strings.TrimSuffix(pathBase(repoPath), "/")
	}

	o, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	summary, err := o.Index(ctx, repoPath, alias)
	if err != nil {
		return err
	}
	logger.Info().
		Str("repo_id", summary.RepoID).Str("alias", summary.Alias).
		Int("added", summary.FilesAdded).Int("changed", summary.FilesChanged).
		Int("deleted", summary.FilesDeleted).Int("chunks", summary.ChunksTotal).
		Dur("duration", summary.Duration).Msg("index complete")
	return json.NewEncoder(os.Stdout).Encode(summary)
}

func runUpdate(ctx context.Context, cfg config.Specification, logger zerolog.Logger, alias, id string) error {
	if alias == "" || id == "" {
		return errs.New(errs.KindInput, "update requires --alias and --id")
	}
	o, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	summary, err := o.Update(ctx, alias, id)
	if err != nil {
		return err
	}
	logger.Info().
		Str("repo_id", summary.RepoID).Int("added", summary.FilesAdded).
		Int("changed", summary.FilesChanged).Int("deleted", summary.FilesDeleted).
		Msg("update complete")
	return json.NewEncoder(os.Stdout).Encode(summary)
}

func runQuery(ctx context.Context, cfg config.Specification, text string, k int, scopeName string, repoIDs []string) error {
	o, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	var kind query.ScopeKind
	switch scopeName {
	case "all":
		kind = query.ScopeAll
	case "set":
		kind = query.ScopeSet
	default:
		kind = query.ScopeCurrent
	}

	results, err := o.Query(ctx, text, k, query.Scope{Kind: kind, RepoIDs: repoIDs})
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(results)
}

func runDelete(cfg config.Specification, alias, id string) error {
	if alias == "" || id == "" {
		return errs.New(errs.KindInput, "delete requires --alias and --id")
	}
	o, err := build(context.Background(), cfg)
	if err != nil {
		return err
	}
	return o.DeleteRepository(alias, id)
}

// runStats reports one repository's stored metadata. id may come from
// --id or a bare positional argument (ziri stats <repo-id>); alias is
// required either way since stores are keyed by alias/id.
func runStats(cfg config.Specification, alias, id string) error {
	if alias == "" || id == "" {
		return errs.New(errs.KindInput, "stats requires --alias and either --id or a repo-id argument")
	}
	o, err := build(context.Background(), cfg)
	if err != nil {
		return err
	}
	st, err := o.Stats(alias, id)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(st)
}

func runList(cfg config.Specification) error {
	o, err := build(context.Background(), cfg)
	if err != nil {
		return err
	}
	repos, err := o.ListRepositories()
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(repos)
}

func pathBase(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// cloneToTemp shallow-clones repoURL at ref into a temp directory using
// go-git rather than shelling out to the system git binary.
func cloneToTemp(repoURL, ref, token string) (string, error) {
	dir, err := os.MkdirTemp("", "ziri-*")
	if err != nil {
		return "", err
	}

	opts := &git.CloneOptions{URL: repoURL, Depth: 1}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	if token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-oauth-basic", Password: token}
	}

	if _, err := git.PlainClone(dir, false, opts); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("git clone: %w", err)
	}
	return dir, nil
}
