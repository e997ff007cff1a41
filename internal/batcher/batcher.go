// Package batcher packs a bounded stream of chunks into token-limited
// batches and adapts batch size to observed provider latency, grounded
// on the back-pressure loop the pack's streaming indexer uses for its
// own pipeline stage.
package batcher

import (
	"math"
	"sync"
	"time"

	"github.com/seanblong/ziri/internal/embedprovider"
	"github.com/seanblong/ziri/internal/metrics"
	"github.com/seanblong/ziri/pkg/models"
)

const (
	defaultTargetResponse   = 2 * time.Second
	defaultTolerance        = 0.15
	defaultStabilityThresh  = 3
	defaultAdaptationRate   = 1.0
	latencyWindow           = 3
)

// providerState tracks one provider's adaptive batch size and recent
// latency history.
type providerState struct {
	mu sync.Mutex

	current int
	min     int
	max     int

	recent []time.Duration
	slow   int
	fast   int
	stable int
}

// Adaptive packs chunks into batches and adjusts batch size per
// provider based on observed response times.
type Adaptive struct {
	mu       sync.Mutex
	states   map[string]*providerState
	metrics  *metrics.Registry
	rateAdj  float64
}

// New constructs an Adaptive batcher. metrics may be nil.
func New(reg *metrics.Registry) *Adaptive {
	return &Adaptive{
		states:  make(map[string]*providerState),
		metrics: reg,
		rateAdj: defaultAdaptationRate,
	}
}

func (a *Adaptive) stateFor(provider string, lim embedprovider.Limits) *providerState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[provider]
	if !ok {
		st = &providerState{
			current: lim.RecommendedBatchSize,
			min:     lim.MinBatchSize,
			max:     lim.MaxBatchSize,
		}
		if st.current < st.min {
			st.current = st.min
		}
		if st.current > st.max {
			st.current = st.max
		}
		a.states[provider] = st
	}
	return st
}

// tokenEstimate approximates chunk token count as roughly 4 bytes per
// token.
func tokenEstimate(content string) int {
	return int(math.Ceil(float64(len(content)) / 4))
}

// Pack accumulates chunks into batches bounded by the provider's
// recommended batch size and max tokens per request. Chunks whose
// individual token estimate exceeds the per-request cap are returned
// in skipped, never split across batches.
func (a *Adaptive) Pack(provider string, lim embedprovider.Limits, chunks []models.Chunk) (batches [][]models.Chunk, skipped []models.Chunk) {
	st := a.stateFor(provider, lim)
	st.mu.Lock()
	batchSize := st.current
	st.mu.Unlock()

	var current []models.Chunk
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
	}

	for _, c := range chunks {
		est := tokenEstimate(c.Content)
		if est > lim.MaxTokensPerRequest {
			skipped = append(skipped, c)
			continue
		}
		if len(current) >= batchSize || currentTokens+est > lim.MaxTokensPerRequest {
			flush()
		}
		current = append(current, c)
		currentTokens += est
	}
	flush()

	if a.metrics != nil {
		a.metrics.BatchSize.WithLabelValues(provider).Set(float64(batchSize))
		if len(skipped) > 0 {
			a.metrics.ChunksSkipped.WithLabelValues(provider).Add(float64(len(skipped)))
		}
	}

	return batches, skipped
}

// Observe records one batch's outcome and adapts current_batch_size
// per the moving-average latency rule.
func (a *Adaptive) Observe(provider string, lim embedprovider.Limits, batchSize int, responseTime time.Duration, rateLimited bool) {
	st := a.stateFor(provider, lim)
	st.mu.Lock()
	defer st.mu.Unlock()

	if a.metrics != nil {
		a.metrics.BatchLatencySecs.WithLabelValues(provider).Observe(responseTime.Seconds())
	}

	if rateLimited {
		st.current = maxInt(st.min, st.current/2)
		st.slow, st.fast, st.stable = 0, 0, 0
		if a.metrics != nil {
			a.metrics.BatchSize.WithLabelValues(provider).Set(float64(st.current))
		}
		return
	}

	st.recent = append(st.recent, responseTime)
	if len(st.recent) > latencyWindow {
		st.recent = st.recent[len(st.recent)-latencyWindow:]
	}

	avg := averageDuration(st.recent)
	target := defaultTargetResponse

	switch {
	case float64(avg) > float64(target)*(1+defaultTolerance):
		st.slow++
		st.fast, st.stable = 0, 0
		if st.slow >= defaultStabilityThresh {
			factor := math.Max(0.5, 1-(float64(avg)-float64(target))/float64(target)*a.rateAdj)
			st.current = maxInt(st.min, int(math.Floor(float64(st.current)*factor)))
			st.slow = 0
		}
	case float64(avg) < float64(target)*(1-defaultTolerance):
		st.fast++
		st.slow, st.stable = 0, 0
		if st.fast >= defaultStabilityThresh {
			factor := math.Min(1.3, 1+(float64(target)-float64(avg))/float64(target)*a.rateAdj)
			st.current = minInt(st.max, int(math.Floor(float64(st.current)*factor)))
			st.fast = 0
		}
	default:
		st.stable++
		st.slow, st.fast = 0, 0
	}

	if a.metrics != nil {
		a.metrics.BatchSize.WithLabelValues(provider).Set(float64(st.current))
		a.metrics.ChunksEmbedded.WithLabelValues(provider).Add(float64(batchSize))
	}
}

// CurrentBatchSize returns the provider's current adaptive batch size,
// for observability and tests.
func (a *Adaptive) CurrentBatchSize(provider string, lim embedprovider.Limits) int {
	st := a.stateFor(provider, lim)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
