// Package memory provides in-memory storage implementations, used by tests
// and the --memory run mode.
package memory

import (
	"context"
	"sort"
	"sync"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore and
// storage.AlertStore. The two live together so PersistScored can write the
// signal and its alert under one lock, mirroring the transactional contract
// of the Postgres backend.
type SignalStore struct {
	mu      sync.RWMutex
	signals map[string]*domain.Signal
	order   []string // insertion order of signal IDs
	alerts  map[string]*domain.Alert // keyed by signal ID
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		signals: make(map[string]*domain.Signal),
		alerts:  make(map[string]*domain.Alert),
	}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// PersistScored persists a signal and its optional alert atomically.
func (s *SignalStore) PersistScored(_ context.Context, sig *domain.Signal, alert *domain.Alert) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}
	if alert != nil && alert.SignalID != sig.ID {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}

	sigCopy := copySignal(sig)
	s.signals[sig.ID] = sigCopy
	s.order = append(s.order, sig.ID)

	if alert != nil {
		alertCopy := *alert
		s.alerts[sig.ID] = &alertCopy
	}
	return nil
}

// GetByID retrieves a signal by ID.
func (s *SignalStore) GetByID(_ context.Context, id string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySignal(sig), nil
}

// GetRecent retrieves up to limit signals, newest first.
func (s *SignalStore) GetRecent(_ context.Context, limit int) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Signal
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copySignal(s.signals[s.order[i]]))
	}
	return out, nil
}

// GetRecentByEntity retrieves up to limit signals for one entity+source,
// newest first.
func (s *SignalStore) GetRecentByEntity(_ context.Context, source domain.Source, entityKey string, limit int) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Signal
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		sig := s.signals[s.order[i]]
		if sig.Source == source && sig.EntityKey == entityKey {
			out = append(out, copySignal(sig))
		}
	}
	return out, nil
}

// RecentFeatures retrieves feature maps of recent signals for model fitting.
func (s *SignalStore) RecentFeatures(_ context.Context, limit int) ([]map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]float64
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		sig := s.signals[s.order[i]]
		if len(sig.Features) == 0 {
			continue
		}
		out = append(out, copyMetrics(sig.Features))
	}
	return out, nil
}

func (s *SignalStore) recentAlerts(limit int) []*domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]*domain.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		c := *a
		alerts = append(alerts, &c)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

func (s *SignalStore) alertBySignalID(signalID string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[signalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *a
	return &c, nil
}

func copySignal(sig *domain.Signal) *domain.Signal {
	c := *sig
	c.Metrics = copyMetrics(sig.Metrics)
	c.Features = copyMetrics(sig.Features)
	if sig.HeuristicLabel != nil {
		label := *sig.HeuristicLabel
		c.HeuristicLabel = &label
	}
	if sig.LabelConfidence != nil {
		conf := *sig.LabelConfidence
		c.LabelConfidence = &conf
	}
	return &c
}

func copyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
