package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	m := New()

	m.BatchSize.WithLabelValues("openai").Set(64)
	m.ChunksEmbedded.WithLabelValues("openai").Inc()
	m.CheckpointSaves.Inc()
	m.HeapBytes.Set(1024)

	if got := testutil.ToFloat64(m.BatchSize.WithLabelValues("openai")); got != 64 {
		t.Errorf("BatchSize = %v, want 64", got)
	}
	if got := testutil.ToFloat64(m.ChunksEmbedded.WithLabelValues("openai")); got != 1 {
		t.Errorf("ChunksEmbedded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CheckpointSaves); got != 1 {
		t.Errorf("CheckpointSaves = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HeapBytes); got != 1024 {
		t.Errorf("HeapBytes = %v, want 1024", got)
	}
}

func TestNewInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.CheckpointSaves.Inc()
	if got := testutil.ToFloat64(b.CheckpointSaves); got != 0 {
		t.Errorf("expected independent registries, got b.CheckpointSaves = %v", got)
	}
}
