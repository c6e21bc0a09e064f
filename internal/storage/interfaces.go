package storage

import (
	"context"
	"time"

	"market-signal-lab/internal/domain"
)

// SignalStore provides access to signals storage.
type SignalStore interface {
	// PersistScored persists a signal and its optional alert as one logical
	// unit: backends that support transactions must make both writes atomic
	// so an alertable signal can never be observed without its alert.
	// Returns ErrDuplicateKey if the signal ID exists.
	PersistScored(ctx context.Context, s *domain.Signal, a *domain.Alert) error

	// GetByID retrieves a signal by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Signal, error)

	// GetRecent retrieves up to limit signals, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.Signal, error)

	// GetRecentByEntity retrieves up to limit signals for one entity+source,
	// newest first.
	GetRecentByEntity(ctx context.Context, source domain.Source, entityKey string, limit int) ([]*domain.Signal, error)

	// RecentFeatures retrieves the feature maps of up to limit recent
	// signals, for model bootstrap and refit.
	RecentFeatures(ctx context.Context, limit int) ([]map[string]float64, error)
}

// AlertStore provides read access to alerts storage. Alerts are written only
// through SignalStore.PersistScored.
type AlertStore interface {
	// GetRecent retrieves up to limit alerts, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.Alert, error)

	// GetBySignalID retrieves the alert for a signal. Returns ErrNotFound
	// if the signal did not alert.
	GetBySignalID(ctx context.Context, signalID string) (*domain.Alert, error)
}

// MetricHistoryStore holds the trailing per-entity metric observations that
// back feature extraction z-scores.
type MetricHistoryStore interface {
	// Append records one observation for an entity.
	Append(ctx context.Context, source domain.Source, entityKey string, observedAt time.Time, metrics map[string]float64) error

	// RecentMetrics returns up to limit trailing observations for one
	// entity+source, ordered oldest to newest. Satisfies
	// feature.HistoryProvider.
	RecentMetrics(ctx context.Context, source domain.Source, entityKey string, limit int) ([]map[string]float64, error)
}
