// Package metrics wraps the Prometheus gauges and histograms emitted
// by the indexing pipeline, in the style of the example pack's
// observability packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the pipeline records, registered against
// its own prometheus.Registry so concurrent indexing operations (or
// tests) never collide on the global default registry.
type Registry struct {
	Registerer prometheus.Registerer

	BatchSize          *prometheus.GaugeVec
	BatchLatencySecs   *prometheus.HistogramVec
	BatchesInFlight    prometheus.Gauge
	ChunksEmbedded     *prometheus.CounterVec
	ChunksSkipped      *prometheus.CounterVec
	HeapBytes          prometheus.Gauge
	MemoryEvents       *prometheus.CounterVec
	CheckpointSaves    prometheus.Counter
	QueryLatencySecs   prometheus.Histogram
}

// New constructs and registers a Registry under namespace "ziri".
func New() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{
		Registerer: reg,
		BatchSize: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{Namespace: "ziri", Name: "adaptive_batch_size", Help: "Current adaptive batch size per provider."},
			[]string{"provider"},
		),
		BatchLatencySecs: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ziri", Name: "batch_latency_seconds", Help: "Observed embedding batch response time.",
				Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider"},
		),
		BatchesInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: "ziri", Name: "batches_in_flight", Help: "Number of embedding batches currently executing."},
		),
		ChunksEmbedded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: "ziri", Name: "chunks_embedded_total", Help: "Total chunks successfully embedded."},
			[]string{"provider"},
		),
		ChunksSkipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: "ziri", Name: "chunks_skipped_total", Help: "Total chunks skipped for exceeding the per-request token cap."},
			[]string{"provider"},
		),
		HeapBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: "ziri", Name: "heap_alloc_bytes", Help: "Last sampled runtime heap allocation."},
		),
		MemoryEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: "ziri", Name: "memory_events_total", Help: "Count of memory pressure events by kind."},
			[]string{"kind"},
		),
		CheckpointSaves: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{Namespace: "ziri", Name: "checkpoint_saves_total", Help: "Total checkpoint save operations."},
		),
		QueryLatencySecs: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ziri", Name: "query_latency_seconds", Help: "Query engine latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}
