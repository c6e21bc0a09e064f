package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

const insertSignalQuery = `
	INSERT INTO signals (
		id, source, entity_key, observed_at, metrics, features,
		anomaly_score, untrained, heuristic_label, label_confidence,
		raw_payload_ref, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const insertAlertQuery = `
	INSERT INTO alerts (id, signal_id, entity_key, reason, severity, title, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const selectSignalColumns = `
	id, source, entity_key, observed_at, metrics, features,
	anomaly_score, untrained, heuristic_label, label_confidence,
	raw_payload_ref, created_at
`

// PersistScored persists a signal and its optional alert in one transaction,
// so a mid-write crash can never leave an alertable signal without its alert.
func (s *SignalStore) PersistScored(ctx context.Context, sig *domain.Signal, alert *domain.Alert) error {
	if sig == nil || sig.ID == "" {
		return storage.ErrInvalidInput
	}
	if alert != nil && alert.SignalID != sig.ID {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var label, confidence *string
	if sig.HeuristicLabel != nil {
		label = sig.HeuristicLabel
	}
	if sig.LabelConfidence != nil {
		c := string(*sig.LabelConfidence)
		confidence = &c
	}

	_, err = tx.Exec(ctx, insertSignalQuery,
		sig.ID,
		string(sig.Source),
		sig.EntityKey,
		sig.ObservedAt,
		sig.Metrics,
		sig.Features,
		sig.AnomalyScore,
		sig.Untrained,
		label,
		confidence,
		sig.RawPayloadRef,
		sig.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}

	if alert != nil {
		_, err = tx.Exec(ctx, insertAlertQuery,
			alert.ID,
			alert.SignalID,
			alert.EntityKey,
			string(alert.Reason),
			string(alert.Severity),
			alert.Title,
			alert.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert alert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a signal by ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(ctx context.Context, id string) (*domain.Signal, error) {
	query := `SELECT ` + selectSignalColumns + ` FROM signals WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	sig, err := scanSignal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal by id: %w", err)
	}
	return sig, nil
}

// GetRecent retrieves up to limit signals, newest first.
func (s *SignalStore) GetRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	query := `
		SELECT ` + selectSignalColumns + `
		FROM signals
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// GetRecentByEntity retrieves up to limit signals for one entity+source,
// newest first.
func (s *SignalStore) GetRecentByEntity(ctx context.Context, source domain.Source, entityKey string, limit int) ([]*domain.Signal, error) {
	query := `
		SELECT ` + selectSignalColumns + `
		FROM signals
		WHERE source = $1 AND entity_key = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, string(source), entityKey, limit)
	if err != nil {
		return nil, fmt.Errorf("get signals by entity: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// RecentFeatures retrieves feature maps of recent signals for model fitting.
func (s *SignalStore) RecentFeatures(ctx context.Context, limit int) ([]map[string]float64, error) {
	query := `
		SELECT features
		FROM signals
		WHERE features <> '{}'::jsonb
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent features: %w", err)
	}
	defer rows.Close()

	var out []map[string]float64
	for rows.Next() {
		var features map[string]float64
		if err := rows.Scan(&features); err != nil {
			return nil, fmt.Errorf("scan features row: %w", err)
		}
		out = append(out, features)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features rows: %w", err)
	}
	return out, nil
}

// scanSignal scans one row into a Signal.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var sig domain.Signal
	var source string
	var label, confidence *string

	err := row.Scan(
		&sig.ID,
		&source,
		&sig.EntityKey,
		&sig.ObservedAt,
		&sig.Metrics,
		&sig.Features,
		&sig.AnomalyScore,
		&sig.Untrained,
		&label,
		&confidence,
		&sig.RawPayloadRef,
		&sig.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sig.Source = domain.Source(source)
	sig.HeuristicLabel = label
	if confidence != nil {
		c := domain.Confidence(*confidence)
		sig.LabelConfidence = &c
	}
	return &sig, nil
}

// scanSignals scans multiple rows into a slice of Signal.
func scanSignals(rows pgx.Rows) ([]*domain.Signal, error) {
	var signals []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return signals, nil
}
