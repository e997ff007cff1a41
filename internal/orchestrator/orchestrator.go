// Package orchestrator wires repoid, walker, changeset, storage,
// streamproc, chunkstore, vectorindex and query into the index/update/
// query/delete lifecycle behind an explicit state machine. An index or
// update can be paused and resumed while it queues files for the
// streaming processor.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/ziri/internal/batcher"
	"github.com/seanblong/ziri/internal/changeset"
	"github.com/seanblong/ziri/internal/checkpoint"
	"github.com/seanblong/ziri/internal/chunker"
	"github.com/seanblong/ziri/internal/chunkstore"
	"github.com/seanblong/ziri/internal/config"
	"github.com/seanblong/ziri/internal/embedprovider"
	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/internal/gate"
	"github.com/seanblong/ziri/internal/memmonitor"
	"github.com/seanblong/ziri/internal/metrics"
	"github.com/seanblong/ziri/internal/query"
	"github.com/seanblong/ziri/internal/repoid"
	"github.com/seanblong/ziri/internal/storage"
	"github.com/seanblong/ziri/internal/streamproc"
	"github.com/seanblong/ziri/internal/vectorindex"
	"github.com/seanblong/ziri/internal/walker"
	"github.com/seanblong/ziri/pkg/models"
)

// State names a phase of the orchestrator's run lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Summary reports the outcome of an Index or Update run.
type Summary struct {
	RepoID       string
	Alias        string
	FilesAdded   int
	FilesChanged int
	FilesDeleted int
	ChunksTotal  int
	Duration     time.Duration
}

type control int

const (
	controlPause control = iota
	controlResume
)

// Orchestrator composes one ZIRI_HOME's worth of repository stores with
// a single embedding provider and shared memory/metrics instruments.
type Orchestrator struct {
	home     string
	cfg      config.Specification
	storageM *storage.Manager
	metricsR *metrics.Registry
	memoryM  *memmonitor.Monitor
	provider embedprovider.Client
	filter   *walker.Filter

	mu      sync.Mutex
	state   State
	control chan control
}

// Builder assembles an Orchestrator from a Specification into one
// reusable constructor.
type Builder struct {
	cfg config.Specification
}

// NewBuilder starts a Builder with zero-valued configuration; callers
// set it via WithConfig before Build.
func NewBuilder() *Builder { return &Builder{} }

// WithConfig attaches the resolved Specification to build against.
func (b *Builder) WithConfig(cfg config.Specification) *Builder {
	b.cfg = cfg
	return b
}

// Build constructs the Orchestrator, including its embedding provider
// client and shared instruments. It performs no disk I/O.
func (b *Builder) Build(ctx context.Context) (*Orchestrator, error) {
	reg := metrics.New()

	provider, err := embedprovider.New(ctx, embedprovider.Config{
		Provider:   b.cfg.Provider,
		APIKey:     b.cfg.APIKey,
		EmbedModel: b.cfg.EmbedModel,
		Dim:        b.cfg.Dim,
		ProjectID:  b.cfg.ProjectID,
		Location:   b.cfg.Location,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindProvider, "construct embedding provider", err)
	}

	mem := memmonitor.New(memmonitor.Config{
		MaxMemoryBytes: uint64(b.cfg.MemoryLimit) * 1024 * 1024,
	}, reg)

	return &Orchestrator{
		home:     b.cfg.Home,
		cfg:      b.cfg,
		storageM: storage.NewManager(b.cfg.Home, nil),
		metricsR: reg,
		memoryM:  mem,
		provider: provider,
		filter:   walker.NewFilter(b.cfg.ExcludeGlobs()),
		state:    StateIdle,
		control:  make(chan control, 1),
	}, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// State reports the orchestrator's current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Pause requests that the running Index or Update suspend. The request
// is checked only while files are being queued for the streaming
// processor, before Processor.Run starts; once Run has started, its
// batches are not paused. A request made while nothing is running stays
// pending and is applied by the next Index or Update that queues a file.
func (o *Orchestrator) Pause() {
	select {
	case o.control <- controlPause:
	default:
	}
}

// Resume releases a paused operation.
func (o *Orchestrator) Resume() {
	select {
	case o.control <- controlResume:
	default:
	}
}

// checkPause blocks while a pause is in effect, honoring ctx
// cancellation, and is polled by Index/Update before each file task is
// queued for the streaming processor.
func (o *Orchestrator) checkPause(ctx context.Context) error {
	select {
	case c := <-o.control:
		if c != controlPause {
			return nil
		}
		o.setState(StatePaused)
		for {
			select {
			case c := <-o.control:
				if c == controlResume {
					o.setState(StateRunning)
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	default:
		return nil
	}
}

// Index walks repoPath, computes its stable id, creates (or reuses) its
// store, and embeds every discovered file, resuming from any
// unfinished checkpoint. alias names the store directory; it is
// sanitized before use as a directory name.
func (o *Orchestrator) Index(ctx context.Context, repoPath, alias string) (Summary, error) {
	o.setState(StateInitializing)
	start := time.Now()

	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		o.setState(StateFailed)
		return Summary{}, errs.Wrap(errs.KindInput, "resolve repo path", err)
	}
	id, err := repoid.Compute(absPath)
	if err != nil {
		o.setState(StateFailed)
		return Summary{}, errs.Wrap(errs.KindInput, "compute repository id", err)
	}
	alias = storage.SanitizeAlias(alias)

	var rs *storage.RepoStore
	if o.storageM.Exists(alias, id) {
		rs, err = o.storageM.Open(alias, id, true)
	} else {
		rs, err = o.storageM.Create(models.Repository{
			ID: id, Path: absPath, Alias: alias, CreatedAt: time.Now(),
			EmbeddingProvider: o.provider.Provider(), Dimensions: o.provider.Dim(),
			MetricType: "cosine", Version: 1,
		})
	}
	if err != nil {
		o.setState(StateFailed)
		return Summary{}, err
	}
	defer rs.Close()

	summary, err := o.run(ctx, rs, absPath, id, alias, models.OpIndex)
	if err != nil {
		o.setState(StateFailed)
		return summary, err
	}
	o.setState(StateCompleted)
	summary.Duration = time.Since(start)
	return summary, nil
}

// Update re-scans an already-indexed repository for the alias/id pair,
// embedding only added/modified files and retiring deleted ones.
func (o *Orchestrator) Update(ctx context.Context, alias, id string) (Summary, error) {
	o.setState(StateInitializing)
	start := time.Now()

	rs, err := o.storageM.Open(alias, id, true)
	if err != nil {
		o.setState(StateFailed)
		return Summary{}, err
	}
	defer rs.Close()

	meta, err := rs.ReadMetadata()
	if err != nil {
		o.setState(StateFailed)
		return Summary{}, err
	}

	summary, err := o.run(ctx, rs, meta.Path, id, alias, models.OpUpdate)
	if err != nil {
		o.setState(StateFailed)
		return summary, err
	}
	o.setState(StateCompleted)
	summary.Duration = time.Since(start)
	return summary, nil
}

// run is the shared walk→changeset→embed→persist pipeline behind both
// Index and Update.
func (o *Orchestrator) run(ctx context.Context, rs *storage.RepoStore, repoPath, id, alias string, op models.OpType) (Summary, error) {
	o.setState(StateRunning)

	meta, err := rs.ReadMetadata()
	if err != nil {
		return Summary{}, err
	}
	manifest, err := rs.ReadManifest()
	if err != nil {
		return Summary{}, err
	}

	current := map[string]string{}
	if err := walker.Walk(ctx, repoPath, o.filter, func(path string) error {
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return nil
		}
		hash, err := changeset.HashFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("orchestrator: skipping unreadable file")
			return nil
		}
		current[rel] = hash
		return nil
	}); err != nil {
		return Summary{}, errs.Wrap(errs.KindInput, "walk repository", err)
	}

	previous := make(map[string]string, len(manifest))
	for path, rec := range manifest {
		previous[path] = rec.Hash
	}
	cs := changeset.Detect(current, previous)
	if o.cfg.Force {
		all := make([]string, 0, len(current))
		for path := range current {
			all = append(all, path)
		}
		cs.Added = nil
		cs.Modified = all
		cs.Unchanged = nil
	}

	ix, records, err := openVectorState(rs, meta)
	if err != nil {
		return Summary{}, err
	}

	if len(cs.Deleted) > 0 {
		if err := retireDeleted(ix, records, manifest, cs.Deleted); err != nil {
			return Summary{}, err
		}
	}

	toProcess := append(append([]string{}, cs.Added...), cs.Modified...)
	chunksTotal, err := o.embedFiles(ctx, rs, id, op, repoPath, toProcess, current, ix, records)
	if err != nil {
		return Summary{}, err
	}

	for _, path := range cs.Deleted {
		delete(manifest, path)
	}
	for _, path := range toProcess {
		manifest[path] = models.FileRecord{Hash: current[path], ModTime: time.Now(), ModTimeMs: time.Now().UnixMilli()}
	}

	meta.LastIndexed = time.Now()
	meta.TotalChunks = records.Len()
	meta.FileHashes = current
	if err := rs.WriteMetadata(meta); err != nil {
		return Summary{}, err
	}
	if err := rs.WriteManifest(manifest); err != nil {
		return Summary{}, err
	}
	if err := ix.Save(rs.VectorIndexPath()); err != nil {
		return Summary{}, err
	}
	if err := records.Save(); err != nil {
		return Summary{}, err
	}

	return Summary{
		RepoID: id, Alias: alias,
		FilesAdded: len(cs.Added), FilesChanged: len(cs.Modified), FilesDeleted: len(cs.Deleted),
		ChunksTotal: records.Len(),
	}, nil
}

func openVectorState(rs *storage.RepoStore, meta models.Repository) (*vectorindex.Index, *chunkstore.Store, error) {
	ix, err := vectorindex.Load(rs.VectorIndexPath())
	if err != nil {
		dim := meta.Dimensions
		if dim == 0 {
			dim = 1
		}
		ix = vectorindex.New(dim)
	}
	records, err := chunkstore.Open(rs.RecordsPath(), nil)
	if err != nil {
		return nil, nil, err
	}
	return ix, records, nil
}

// retireDeleted removes every chunk belonging to a deleted file from
// the index, then rewrites the chunk store with the resulting id remap.
func retireDeleted(ix *vectorindex.Index, records *chunkstore.Store, manifest map[string]models.FileRecord, deleted []string) error {
	deletedSet := make(map[string]bool, len(deleted))
	for _, p := range deleted {
		deletedSet[p] = true
	}

	var toRemove []uint32
	for _, rec := range records.All() {
		if deletedSet[rec.FilePath] {
			toRemove = append(toRemove, rec.VectorID)
		}
	}
	if len(toRemove) == 0 {
		return nil
	}

	remap, err := ix.Remove(toRemove)
	if err != nil {
		return err
	}

	var survivors []models.ChunkRecord
	for _, rec := range records.All() {
		newID, ok := remap[rec.VectorID]
		if !ok {
			continue
		}
		rec.VectorID = newID
		survivors = append(survivors, rec)
	}
	return records.RewriteAll(survivors)
}

// embedFiles runs the streamproc pipeline over the given relative
// paths and persists each resulting batch into the vector index and
// chunk store as it arrives.
func (o *Orchestrator) embedFiles(ctx context.Context, rs *storage.RepoStore, repoID string, op models.OpType, repoPath string, paths []string, hashes map[string]string, ix *vectorindex.Index, records *chunkstore.Store) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	cpMgr := checkpoint.NewManager(o.home, o.cfg.BatchSize, 5, o.metricsR)
	if _, err := cpMgr.Start(repoID, op); err != nil {
		return 0, err
	}

	lim := o.provider.Limits()
	proc := &streamproc.Processor{
		Provider:   o.provider.Provider(),
		Limits:     lim,
		Batcher:    batcher.New(o.metricsR),
		Gate:       gate.New(o.cfg.Concurrency),
		Memory:     o.memoryM,
		Checkpoint: cpMgr,
		ChunkerConfig: chunker.Config{
			Mode: chunker.ModeLineAware,
		},
	}

	in := make(chan streamproc.FileTask, len(paths))
	for _, p := range paths {
		cp := cpMgr.CurrentCheckpoint()
		if cp != nil && cp.HasProcessed(p) {
			continue
		}
		if err := o.checkPause(ctx); err != nil {
			close(in)
			return 0, err
		}
		in <- streamproc.FileTask{Path: filepath.Join(repoPath, p), RelPath: p, Hash: hashes[p]}
	}
	close(in)

	out, errCh := proc.Run(ctx, in, o.embedBatch)

	total := 0
	var firstErr error
	done := false
	for !done {
		select {
		case br, ok := <-out:
			if !ok {
				out = nil
				break
			}
			if err := persistBatch(ix, records, br); err != nil && firstErr == nil {
				firstErr = err
			}
			total += len(br.Chunks)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				break
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		if out == nil && errCh == nil {
			done = true
		}
	}
	if firstErr != nil {
		return total, firstErr
	}
	return total, cpMgr.Complete()
}

func persistBatch(ix *vectorindex.Index, records *chunkstore.Store, br models.BatchResult) error {
	ids, err := ix.Add(br.Vectors)
	if err != nil {
		return err
	}
	for i, c := range br.Chunks {
		rec := models.ChunkRecord{
			VectorID: ids[i], ChunkID: c.ID, Content: c.Content, FilePath: c.RelPath,
			StartLine: c.StartLine, EndLine: c.EndLine, FileHash: c.FileHash,
			CreatedAt: time.Now(), Provider: br.Provider, Language: c.Language,
			Type: c.Type, FunctionName: c.FunctionName, ClassName: c.ClassName,
			Imports: c.Imports, Signature: c.Signature,
		}
		if err := records.Append(ids[i], rec); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) embedBatch(ctx context.Context, provider string, chunks []models.Chunk) ([]models.BatchResult, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, retries, err := o.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return []models.BatchResult{{
		Chunks: chunks, Vectors: vecs, BatchSize: len(chunks), Provider: provider, Retries: retries,
	}}, nil
}

// DeleteRepository removes all on-disk state for one repository.
func (o *Orchestrator) DeleteRepository(alias, id string) error {
	return o.storageM.Delete(alias, id)
}

// ListRepositories enumerates every repository store under ZIRI_HOME.
func (o *Orchestrator) ListRepositories() ([]storage.Stats, error) {
	return o.storageM.List()
}

// Stats reports one repository's stored metadata without locking it.
func (o *Orchestrator) Stats(alias, id string) (storage.Stats, error) {
	return o.storageM.Stats(alias, id)
}

// Query embeds q and searches the repositories named by scope,
// resolving handles from this orchestrator's storage manager.
func (o *Orchestrator) Query(ctx context.Context, q string, k int, scope query.Scope) ([]models.SearchResult, error) {
	engine, err := query.NewEngine(o.provider, o.resolveScope, 256)
	if err != nil {
		return nil, err
	}
	return engine.Query(ctx, q, k, scope)
}

func (o *Orchestrator) resolveScope(scope query.Scope) ([]*query.RepoHandle, error) {
	var targets []storage.Stats
	switch scope.Kind {
	case query.ScopeAll:
		all, err := o.storageM.List()
		if err != nil {
			return nil, err
		}
		targets = all
	case query.ScopeSet, query.ScopeCurrent:
		all, err := o.storageM.List()
		if err != nil {
			return nil, err
		}
		wanted := make(map[string]bool, len(scope.RepoIDs))
		for _, id := range scope.RepoIDs {
			wanted[id] = true
		}
		for _, st := range all {
			if wanted[st.ID] {
				targets = append(targets, st)
			}
		}
	}

	handles := make([]*query.RepoHandle, 0, len(targets))
	for _, st := range targets {
		rs, err := o.storageM.Open(st.Alias, st.ID, false)
		if err != nil {
			log.Warn().Err(err).Str("repo", st.ID).Msg("orchestrator: skipping unreadable repository for query")
			continue
		}
		meta, err := rs.ReadMetadata()
		if err != nil {
			rs.Close()
			continue
		}
		ix, err := vectorindex.Load(rs.VectorIndexPath())
		if err != nil {
			rs.Close()
			continue
		}
		records, err := chunkstore.Open(rs.RecordsPath(), nil)
		rs.Close()
		if err != nil {
			continue
		}
		handles = append(handles, &query.RepoHandle{Repo: meta, Index: ix, Records: records})
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("no repositories matched the query scope")
	}
	return handles, nil
}
