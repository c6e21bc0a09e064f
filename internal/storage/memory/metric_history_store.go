package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// MetricHistoryStore is an in-memory implementation of
// storage.MetricHistoryStore. Each entity keeps a bounded trailing window of
// observations; older entries are discarded.
type MetricHistoryStore struct {
	mu       sync.RWMutex
	data     map[string][]observation // keyed by source|entity
	maxDepth int
}

type observation struct {
	observedAt time.Time
	metrics    map[string]float64
}

// NewMetricHistoryStore creates a store keeping up to maxDepth observations
// per entity.
func NewMetricHistoryStore(maxDepth int) *MetricHistoryStore {
	if maxDepth <= 0 {
		maxDepth = 256
	}
	return &MetricHistoryStore{
		data:     make(map[string][]observation),
		maxDepth: maxDepth,
	}
}

// Compile-time interface check.
var _ storage.MetricHistoryStore = (*MetricHistoryStore)(nil)

func historyKey(source domain.Source, entityKey string) string {
	return fmt.Sprintf("%s|%s", source, entityKey)
}

// Append records one observation for an entity.
func (s *MetricHistoryStore) Append(_ context.Context, source domain.Source, entityKey string, observedAt time.Time, metrics map[string]float64) error {
	if entityKey == "" || !source.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(source, entityKey)
	obs := observation{observedAt: observedAt, metrics: copyMetrics(metrics)}
	window := append(s.data[key], obs)
	if len(window) > s.maxDepth {
		window = window[len(window)-s.maxDepth:]
	}
	s.data[key] = window
	return nil
}

// RecentMetrics returns up to limit trailing observations, oldest to newest.
func (s *MetricHistoryStore) RecentMetrics(_ context.Context, source domain.Source, entityKey string, limit int) ([]map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.data[historyKey(source, entityKey)]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]map[string]float64, len(window))
	for i, obs := range window {
		out[i] = copyMetrics(obs.metrics)
	}
	return out, nil
}
