// Package streamproc is the central indexing dataflow: it turns a
// stream of file tasks into a stream of embedded batches, composing
// internal/chunker and internal/metadata per file, then
// internal/batcher and internal/gate for the embedding fan-out, while
// consulting internal/memmonitor before every dispatch and
// internal/checkpoint after every file completes, as a buffered,
// resumable, memory-aware multi-stage pipeline.
package streamproc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/ziri/internal/batcher"
	"github.com/seanblong/ziri/internal/chunker"
	"github.com/seanblong/ziri/internal/checkpoint"
	"github.com/seanblong/ziri/internal/embedprovider"
	"github.com/seanblong/ziri/internal/gate"
	"github.com/seanblong/ziri/internal/memmonitor"
	"github.com/seanblong/ziri/internal/metadata"
	"github.com/seanblong/ziri/pkg/models"
)

// FileTask is one file the orchestrator has decided needs
// (re-)chunking and embedding, produced upstream by
// internal/changeset.Detect.
type FileTask struct {
	Path    string
	RelPath string
	Hash    string
}

// EmbedFunc embeds one packed batch of chunks, returning one
// BatchResult per sub-batch actually sent to the provider (normally a
// single element).
type EmbedFunc func(ctx context.Context, provider string, chunks []models.Chunk) ([]models.BatchResult, error)

// Processor composes the indexing dataflow for one operation.
type Processor struct {
	Provider      string
	Limits        embedprovider.Limits
	Batcher       *batcher.Adaptive
	Gate          *gate.Gate
	Memory        *memmonitor.Monitor
	Checkpoint    *checkpoint.Manager
	ChunkerConfig chunker.Config
	ContextLines  int

	// Concurrency gives gate.Run's worker budget; defaults to
	// Limits.MaxConcurrency.
	Concurrency int
}

const defaultContextLines = 2

// pendingChunk tags a packed chunk with the file task it came from, so
// completion of the last chunk of a file can advance the checkpoint.
type pendingChunk struct {
	chunk models.Chunk
	task  FileTask
}

// Run pulls file tasks from in, chunks and enriches each with
// internal/metadata, packs the accumulated chunk buffer via the
// adaptive batcher once it reaches the current batch size (or memory
// pressure forces an early flush), and dispatches packed batches
// through the concurrency gate. Results stream out in batch-completion
// order on the returned channel; the error channel carries one error
// per failed batch or fatal condition (not per skipped chunk — skips
// are logged here as warnings and counted by the batcher's metrics).
func (p *Processor) Run(ctx context.Context, in <-chan FileTask, embed EmbedFunc) (<-chan models.BatchResult, <-chan error) {
	out := make(chan models.BatchResult, 16)
	errCh := make(chan error, 4)

	contextLines := p.ContextLines
	if contextLines <= 0 {
		contextLines = defaultContextLines
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = p.Limits.MaxConcurrency
	}
	if p.Gate == nil {
		p.Gate = gate.New(concurrency)
	}

	go func() {
		defer close(out)
		defer close(errCh)

		var pending []pendingChunk
		remaining := map[string]int{} // RelPath -> chunks not yet accounted for

		flush := func() {
			if len(pending) == 0 {
				return
			}
			p.dispatch(ctx, pending, embed, out, errCh, remaining)
			pending = nil
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				errCh <- ctx.Err()
				return
			case task, ok := <-in:
				if !ok {
					flush()
					return
				}

				chunks, err := p.chunkFile(task)
				if err != nil {
					log.Warn().Err(err).Str("path", task.Path).Msg("streamproc: skipping unreadable file")
					continue
				}
				if len(chunks) == 0 {
					if err := p.advanceCheckpoint(task, 0); err != nil {
						errCh <- err
					}
					continue
				}
				remaining[task.RelPath] = len(chunks)
				for _, c := range chunks {
					pending = append(pending, pendingChunk{chunk: c, task: task})
				}

				batchSize := p.Batcher.CurrentBatchSize(p.Provider, p.Limits)
				if len(pending) >= batchSize || p.memoryWarning() {
					flush()
				}
			}
		}
	}()

	return out, errCh
}

func (p *Processor) memoryWarning() bool {
	if p.Memory == nil {
		return false
	}
	return p.Memory.UsagePercent() >= 80
}

// dispatch waits out any memory-critical condition, packs the pending
// chunks into provider batches, and fans them out through the gate.
func (p *Processor) dispatch(ctx context.Context, pending []pendingChunk, embed EmbedFunc, out chan<- models.BatchResult, errCh chan<- error, remaining map[string]int) {
	if p.Memory != nil && !p.Memory.IsWithinLimits() {
		if err := p.Memory.WaitForAvailable(ctx, 60*time.Second); err != nil {
			errCh <- err
			return
		}
	}

	chunks := make([]models.Chunk, len(pending))
	for i, pc := range pending {
		chunks[i] = pc.chunk
	}

	batches, skipped := p.Batcher.Pack(p.Provider, p.Limits, chunks)
	for _, sk := range skipped {
		log.Warn().Str("chunk_id", sk.ID).Msg("streamproc: chunk exceeds per-request token cap, skipped")
		p.accountFor(sk, remaining)
	}

	results := gate.Run(ctx, p.Gate, batches, func(ctx context.Context, batch []models.Chunk) ([]models.BatchResult, error) {
		start := time.Now()
		res, err := embed(ctx, p.Provider, batch)
		elapsed := time.Since(start)
		p.Batcher.Observe(p.Provider, p.Limits, len(batch), elapsed, false)
		return res, err
	})

	for _, r := range results {
		if r.Err != nil {
			errCh <- r.Err
			continue
		}
		for _, br := range r.Value {
			out <- br
			for _, c := range br.Chunks {
				p.accountFor(c, remaining)
			}
		}
	}
}

// accountFor decrements the outstanding chunk count for c's file and
// advances the checkpoint once every chunk of that file has been
// accounted for (embedded or skipped).
func (p *Processor) accountFor(c models.Chunk, remaining map[string]int) {
	left, ok := remaining[c.RelPath]
	if !ok {
		return
	}
	left--
	remaining[c.RelPath] = left
	if left <= 0 {
		delete(remaining, c.RelPath)
		if p.Checkpoint != nil {
			_ = p.Checkpoint.Advance(models.CheckpointedFile{
				Path: c.RelPath, Hash: c.FileHash, Chunks: 1, ProcessedAt: time.Now(),
			})
		}
	}
}

func (p *Processor) advanceCheckpoint(task FileTask, chunkCount int) error {
	if p.Checkpoint == nil {
		return nil
	}
	return p.Checkpoint.Advance(models.CheckpointedFile{
		Path: task.RelPath, Hash: task.Hash, Chunks: chunkCount, ProcessedAt: time.Now(),
	})
}

// chunkFile reads, chunks, and enriches one file task's content,
// skipping (not failing the operation) on a read error, per the
// per-file failure policy.
func (p *Processor) chunkFile(task FileTask) ([]models.Chunk, error) {
	content, err := os.ReadFile(task.Path)
	if err != nil {
		return nil, err
	}

	lang := metadata.LanguageForPath(task.Path)
	lines := splitLines(string(content))

	spans := chunker.ChunkFile(string(content), p.ChunkerConfig)
	chunks := make([]models.Chunk, 0, len(spans))
	for i, span := range spans {
		chunkType, fn, cls, imports, sig := metadata.Extract(span.Content, lang)
		chunks = append(chunks, models.Chunk{
			ID:            chunkID(task.RelPath, i, task.Hash),
			RelPath:       task.RelPath,
			AbsPath:       task.Path,
			Content:       span.Content,
			StartLine:     span.StartLine,
			EndLine:       span.EndLine,
			TokenEstimate: (len(span.Content) + 3) / 4,
			Language:      lang,
			Type:          chunkType,
			FunctionName:  fn,
			ClassName:     cls,
			Imports:       imports,
			Signature:     sig,
			ContextBefore: surrounding(lines, span.StartLine-1-p.contextLines(), span.StartLine-1),
			ContextAfter:  surrounding(lines, span.EndLine, span.EndLine+p.contextLines()),
			FileHash:      task.Hash,
		})
	}
	return chunks, nil
}

func (p *Processor) contextLines() int {
	if p.ContextLines <= 0 {
		return defaultContextLines
	}
	return p.ContextLines
}

func splitLines(content string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// surrounding returns lines[max(lo,0):min(hi,len)], clamped to bounds.
func surrounding(lines []string, lo, hi int) []string {
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

func chunkID(relPath string, index int, fileHash string) string {
	return filepath.ToSlash(relPath) + "#" + itoa(index) + "@" + fileHash
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
