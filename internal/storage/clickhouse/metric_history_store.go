package clickhouse

import (
	"context"
	"fmt"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// MetricHistoryStore implements storage.MetricHistoryStore using ClickHouse.
type MetricHistoryStore struct {
	conn *Conn
}

// NewMetricHistoryStore creates a new MetricHistoryStore.
func NewMetricHistoryStore(conn *Conn) *MetricHistoryStore {
	return &MetricHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MetricHistoryStore = (*MetricHistoryStore)(nil)

// Append records one observation for an entity.
func (s *MetricHistoryStore) Append(ctx context.Context, source domain.Source, entityKey string, observedAt time.Time, metrics map[string]float64) error {
	if entityKey == "" || !source.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO metric_history (source, entity_key, observed_at, metrics)
		VALUES (?, ?, ?, ?)
	`

	if err := s.conn.Exec(ctx, query, string(source), entityKey, observedAt, metrics); err != nil {
		return fmt.Errorf("insert metric observation: %w", err)
	}
	return nil
}

// RecentMetrics returns up to limit trailing observations, oldest to newest.
func (s *MetricHistoryStore) RecentMetrics(ctx context.Context, source domain.Source, entityKey string, limit int) ([]map[string]float64, error) {
	query := `
		SELECT metrics
		FROM metric_history
		WHERE source = ? AND entity_key = ?
		ORDER BY observed_at DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, string(source), entityKey, limit)
	if err != nil {
		return nil, fmt.Errorf("get metric history: %w", err)
	}
	defer rows.Close()

	var newestFirst []map[string]float64
	for rows.Next() {
		var m map[string]float64
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan metric history row: %w", err)
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric history rows: %w", err)
	}

	out := make([]map[string]float64, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}
