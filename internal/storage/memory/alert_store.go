package memory

import (
	"context"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// AlertStore is the read-side view over the alerts written through a
// SignalStore. It shares the SignalStore's data so readers always see
// alerts consistent with their signals.
type AlertStore struct {
	signals *SignalStore
}

// NewAlertStore creates an AlertStore backed by the given SignalStore.
func NewAlertStore(signals *SignalStore) *AlertStore {
	return &AlertStore{signals: signals}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

// GetRecent retrieves up to limit alerts, newest first.
func (a *AlertStore) GetRecent(_ context.Context, limit int) ([]*domain.Alert, error) {
	return a.signals.recentAlerts(limit), nil
}

// GetBySignalID retrieves the alert for a signal.
func (a *AlertStore) GetBySignalID(_ context.Context, signalID string) (*domain.Alert, error) {
	return a.signals.alertBySignalID(signalID)
}
