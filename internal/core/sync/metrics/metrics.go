// Package metrics decorates a snapshot store with access counters.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
)

var _ interfaces.Store = (*Wrapper)(nil)

// StoreMetrics is a point-in-time copy of a Wrapper's counters.
type StoreMetrics struct {
	LoadCount        uint64
	CommitCount      uint64
	ErrorCount       uint64
	AvgLoadLatency   time.Duration
	AvgCommitLatency time.Duration
	LastCommitted    time.Time
	Entries          int
	CreatedAt        time.Time
}

// Add sums counters; averages are weighted by their operation counts.
func (m StoreMetrics) Add(o StoreMetrics) StoreMetrics {
	out := StoreMetrics{
		LoadCount:   m.LoadCount + o.LoadCount,
		CommitCount: m.CommitCount + o.CommitCount,
		ErrorCount:  m.ErrorCount + o.ErrorCount,
		Entries:     m.Entries + o.Entries,
		CreatedAt:   m.CreatedAt,
	}
	if out.LoadCount > 0 {
		out.AvgLoadLatency = (m.AvgLoadLatency*time.Duration(m.LoadCount) +
			o.AvgLoadLatency*time.Duration(o.LoadCount)) / time.Duration(out.LoadCount)
	}
	if out.CommitCount > 0 {
		out.AvgCommitLatency = (m.AvgCommitLatency*time.Duration(m.CommitCount) +
			o.AvgCommitLatency*time.Duration(o.CommitCount)) / time.Duration(out.CommitCount)
	}
	out.LastCommitted = m.LastCommitted
	if o.LastCommitted.After(out.LastCommitted) {
		out.LastCommitted = o.LastCommitted
	}
	if out.CreatedAt.IsZero() || (!o.CreatedAt.IsZero() && o.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = o.CreatedAt
	}
	return out
}

// Wrapper is a decorator for an interfaces.Store that adds metrics collection.
type Wrapper struct {
	store   interfaces.Store
	metrics StoreMetrics
	mu      sync.RWMutex
}

// NewMetricsWrapper creates a new Wrapper.
func NewMetricsWrapper(store interfaces.Store) *Wrapper {
	return &Wrapper{
		store:   store,
		metrics: StoreMetrics{CreatedAt: time.Now()},
	}
}

// Load implements the interfaces.Store interface.
func (m *Wrapper) Load(ctx context.Context) (models.Snapshot, error) {
	start := time.Now()
	snapshot, err := m.store.Load(ctx)
	latency := time.Since(start)

	m.mu.Lock()
	m.metrics.LoadCount++
	m.metrics.AvgLoadLatency = (m.metrics.AvgLoadLatency*time.Duration(m.metrics.LoadCount-1) + latency) / time.Duration(m.metrics.LoadCount)
	if err != nil {
		m.metrics.ErrorCount++
	} else {
		m.metrics.Entries = len(snapshot)
	}
	m.mu.Unlock()

	return snapshot, err
}

// Commit implements the interfaces.Store interface.
func (m *Wrapper) Commit(ctx context.Context, snapshot models.Snapshot) error {
	start := time.Now()
	err := m.store.Commit(ctx, snapshot)
	latency := time.Since(start)

	m.mu.Lock()
	m.metrics.CommitCount++
	m.metrics.AvgCommitLatency = (m.metrics.AvgCommitLatency*time.Duration(m.metrics.CommitCount-1) + latency) / time.Duration(m.metrics.CommitCount)
	if err != nil {
		m.metrics.ErrorCount++
	} else {
		m.metrics.LastCommitted = time.Now()
		m.metrics.Entries = len(snapshot)
	}
	m.mu.Unlock()

	return err
}

// Close implements the interfaces.Store interface.
func (m *Wrapper) Close() error {
	return m.store.Close()
}

func (m *Wrapper) GetMetrics() StoreMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func (m *Wrapper) Unwrap() interfaces.Store {
	return m.store
}
