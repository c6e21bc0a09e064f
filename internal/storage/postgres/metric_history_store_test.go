package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-lab/internal/domain"
)

func TestMetricHistoryStore_AppendAndRecentMetrics(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMetricHistoryStore(pool)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := store.Append(ctx, domain.SourceEquityMarket, "AAPL",
			base.Add(time.Duration(i)*time.Minute),
			map[string]float64{"price": 100 + float64(i), "volume": 1e6})
		require.NoError(t, err)
	}

	got, err := store.RecentMetrics(ctx, domain.SourceEquityMarket, "AAPL", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Oldest to newest within the trailing window.
	assert.Equal(t, 102.0, got[0]["price"])
	assert.Equal(t, 103.0, got[1]["price"])
	assert.Equal(t, 104.0, got[2]["price"])
}

func TestMetricHistoryStore_EntityIsolation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMetricHistoryStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, domain.SourceEquityMarket, "AAPL", now, map[string]float64{"price": 1}))
	require.NoError(t, store.Append(ctx, domain.SourceEquityMarket, "MSFT", now, map[string]float64{"price": 2}))
	require.NoError(t, store.Append(ctx, domain.SourceOptionsMarket, "AAPL", now, map[string]float64{"call_volume": 3}))

	got, err := store.RecentMetrics(ctx, domain.SourceEquityMarket, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0]["price"])
}

func TestMetricHistoryStore_EmptyHistory(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMetricHistoryStore(pool)
	got, err := store.RecentMetrics(context.Background(), domain.SourcePredictionMarket, "nothing", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
