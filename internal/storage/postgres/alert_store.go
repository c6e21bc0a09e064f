package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// AlertStore implements storage.AlertStore using PostgreSQL. Alerts are
// written only through SignalStore.PersistScored.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

const selectAlertColumns = `id, signal_id, entity_key, reason, severity, title, created_at`

// GetRecent retrieves up to limit alerts, newest first.
func (s *AlertStore) GetRecent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT ` + selectAlertColumns + `
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// GetBySignalID retrieves the alert for a signal. Returns ErrNotFound if the
// signal did not alert.
func (s *AlertStore) GetBySignalID(ctx context.Context, signalID string) (*domain.Alert, error) {
	query := `SELECT ` + selectAlertColumns + ` FROM alerts WHERE signal_id = $1`

	alert, err := scanAlert(s.pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get alert by signal id: %w", err)
	}
	return alert, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var reason, severity string

	err := row.Scan(&a.ID, &a.SignalID, &a.EntityKey, &reason, &severity, &a.Title, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Reason = domain.AlertReason(reason)
	a.Severity = domain.Severity(severity)
	return &a, nil
}

func scanAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return alerts, nil
}
