// Package memmonitor samples process heap usage against a configured
// budget and signals pressure events for an ingestion pipeline's own
// back-pressure loop.
package memmonitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/seanblong/ziri/internal/errs"
	"github.com/seanblong/ziri/internal/metrics"
)

// EventKind names a memory-pressure transition.
type EventKind string

const (
	EventNormal   EventKind = "normal"
	EventWarning  EventKind = "warning"
	EventCritical EventKind = "critical"
)

// Event reports a sampled heap usage and its classification.
type Event struct {
	Kind       EventKind
	HeapBytes  uint64
	MaxBytes   uint64
	UsageRatio float64
}

// Monitor periodically samples runtime.ReadMemStats and classifies
// usage against warning (80%) and critical (95%) thresholds of
// MaxMemoryBytes.
type Monitor struct {
	maxBytes     uint64
	checkInterval time.Duration
	forceGC      bool
	metrics      *metrics.Registry

	mu       sync.RWMutex
	lastKind EventKind
	lastUsed uint64

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Config controls Monitor sampling.
type Config struct {
	MaxMemoryBytes  uint64
	CheckInterval   time.Duration
	ForceGC         bool
}

// New constructs a Monitor. CheckInterval defaults to 1 second.
func New(cfg Config, reg *metrics.Registry) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		maxBytes:      cfg.MaxMemoryBytes,
		checkInterval: interval,
		forceGC:       cfg.ForceGC,
		metrics:       reg,
		lastKind:      EventNormal,
		events:        make(chan Event, 16),
	}
}

// Start begins sampling on a ticker until ctx is cancelled or Stop is
// called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// Events returns the channel of pressure transitions. Consumers should
// drain it continuously; it is buffered but not unbounded.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

func (m *Monitor) sample() Event {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	m.lastUsed = ms.HeapAlloc
	m.mu.Unlock()

	ev := m.classify(ms.HeapAlloc)
	if m.metrics != nil {
		m.metrics.HeapBytes.Set(float64(ms.HeapAlloc))
		if ev.Kind != EventNormal {
			m.metrics.MemoryEvents.WithLabelValues(string(ev.Kind)).Inc()
		}
	}

	select {
	case m.events <- ev:
	default:
	}
	return ev
}

func (m *Monitor) classify(heapBytes uint64) Event {
	ratio := 0.0
	if m.maxBytes > 0 {
		ratio = float64(heapBytes) / float64(m.maxBytes)
	}

	kind := EventNormal
	switch {
	case ratio >= 0.95:
		kind = EventCritical
	case ratio >= 0.80:
		kind = EventWarning
	}

	m.mu.Lock()
	m.lastKind = kind
	m.mu.Unlock()

	return Event{Kind: kind, HeapBytes: heapBytes, MaxBytes: m.maxBytes, UsageRatio: ratio}
}

// IsWithinLimits reports whether the last sampled usage is below the
// critical threshold.
func (m *Monitor) IsWithinLimits() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastKind != EventCritical
}

// UsagePercent returns the last sampled heap usage as a percentage of
// MaxMemoryBytes.
func (m *Monitor) UsagePercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxBytes == 0 {
		return 0
	}
	return float64(m.lastUsed) / float64(m.maxBytes) * 100
}

// WaitForAvailable blocks, cooperatively yielding and resampling, until
// usage drops below the critical threshold or timeout elapses. If
// ForceGC is enabled it runs a GC cycle before each re-check.
func (m *Monitor) WaitForAvailable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ev := m.sample()
		if ev.Kind != EventCritical {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.ErrMemoryLimit
		}
		if m.forceGC {
			runtime.GC()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			runtime.Gosched()
		}
	}
}
