package batcher

import (
	"strings"
	"testing"
	"time"

	"github.com/seanblong/ziri/internal/embedprovider"
	"github.com/seanblong/ziri/pkg/models"
)

func testLimits() embedprovider.Limits {
	return embedprovider.Limits{
		RecommendedBatchSize: 4,
		MinBatchSize:         1,
		MaxBatchSize:         16,
		MaxTokensPerRequest:  100,
		MaxConcurrency:       2,
	}
}

func chunkWithContent(n int) models.Chunk {
	return models.Chunk{Content: strings.Repeat("x", n)}
}

func TestPackRespectsBatchSize(t *testing.T) {
	b := New(nil)
	lim := testLimits()

	chunks := make([]models.Chunk, 10)
	for i := range chunks {
		chunks[i] = chunkWithContent(4)
	}

	batches, skipped := b.Pack("stub", lim, chunks)
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped chunks, got %d", len(skipped))
	}
	total := 0
	for _, batch := range batches {
		if len(batch) > lim.RecommendedBatchSize {
			t.Errorf("batch of size %d exceeds recommended %d", len(batch), lim.RecommendedBatchSize)
		}
		total += len(batch)
	}
	if total != len(chunks) {
		t.Errorf("expected %d total chunks packed, got %d", len(chunks), total)
	}
}

func TestPackSkipsOversizeChunks(t *testing.T) {
	b := New(nil)
	lim := testLimits()

	chunks := []models.Chunk{
		chunkWithContent(4),
		chunkWithContent(1000), // token estimate far exceeds MaxTokensPerRequest
		chunkWithContent(4),
	}

	batches, skipped := b.Pack("stub", lim, chunks)
	if len(skipped) != 1 {
		t.Fatalf("expected 1 skipped chunk, got %d", len(skipped))
	}

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	if total != 2 {
		t.Errorf("expected 2 packed chunks, got %d", total)
	}
}

func TestPackNeverSplitsAcrossBatchesWhenTokenCapHit(t *testing.T) {
	b := New(nil)
	lim := testLimits()
	lim.RecommendedBatchSize = 100 // force token cap to be the binding constraint

	chunks := []models.Chunk{
		chunkWithContent(200), // ~50 tokens
		chunkWithContent(200), // ~50 tokens
		chunkWithContent(200), // ~50 tokens, should start a new batch
	}

	batches, skipped := b.Pack("stub", lim, chunks)
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped chunks, got %d", len(skipped))
	}
	if len(batches) < 2 {
		t.Fatalf("expected at least 2 batches given the token cap, got %d", len(batches))
	}
}

func TestObserveShrinksBatchSizeOnRateLimit(t *testing.T) {
	b := New(nil)
	lim := testLimits()

	before := b.CurrentBatchSize("openai", lim)
	b.Observe("openai", lim, before, 500*time.Millisecond, true)
	after := b.CurrentBatchSize("openai", lim)

	if after >= before {
		t.Errorf("expected batch size to shrink on rate limit: before=%d after=%d", before, after)
	}
	if after < lim.MinBatchSize {
		t.Errorf("batch size %d fell below min %d", after, lim.MinBatchSize)
	}
}

func TestObserveStaysWithinBounds(t *testing.T) {
	b := New(nil)
	lim := testLimits()

	for i := 0; i < 20; i++ {
		b.Observe("openai", lim, 4, 10*time.Second, false)
		size := b.CurrentBatchSize("openai", lim)
		if size < lim.MinBatchSize || size > lim.MaxBatchSize {
			t.Fatalf("batch size %d out of bounds [%d,%d]", size, lim.MinBatchSize, lim.MaxBatchSize)
		}
	}
}

func TestObserveGrowsBatchSizeWhenFast(t *testing.T) {
	b := New(nil)
	lim := testLimits()
	lim.RecommendedBatchSize = 4
	lim.MaxBatchSize = 16

	for i := 0; i < defaultStabilityThresh; i++ {
		b.Observe("openai", lim, 4, 100*time.Millisecond, false)
	}
	size := b.CurrentBatchSize("openai", lim)
	if size <= lim.RecommendedBatchSize {
		t.Errorf("expected batch size to grow above %d, got %d", lim.RecommendedBatchSize, size)
	}
}
