package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/storage"
)

// testSignal builds a persistable signal fixture. IDs are generated the way
// the scoring engine generates them, since the schema requires UUIDs.
func testSignal(entity string) *domain.Signal {
	label := "bullish_options_skew"
	conf := domain.ConfidenceMedium
	id := uuid.NewString()
	return &domain.Signal{
		ID:              id,
		Source:          domain.SourceOptionsMarket,
		EntityKey:       entity,
		ObservedAt:      time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
		Metrics:         map[string]float64{"call_volume": 42000, "put_volume": 10000},
		Features:        map[string]float64{"call_put_vol_ratio": 4.2, "opt_vol_z": 2.5},
		AnomalyScore:    0.81,
		HeuristicLabel:  &label,
		LabelConfidence: &conf,
		RawPayloadRef:   "test:" + id,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestSignalStore_PersistAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	sig := testSignal("AAPL")
	require.NoError(t, store.PersistScored(ctx, sig, nil))

	got, err := store.GetByID(ctx, sig.ID)
	require.NoError(t, err)

	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, sig.Source, got.Source)
	assert.Equal(t, sig.EntityKey, got.EntityKey)
	assert.Equal(t, sig.Metrics, got.Metrics)
	assert.Equal(t, sig.Features, got.Features)
	assert.Equal(t, sig.AnomalyScore, got.AnomalyScore)
	assert.False(t, got.Untrained)
	require.NotNil(t, got.HeuristicLabel)
	assert.Equal(t, "bullish_options_skew", *got.HeuristicLabel)
	require.NotNil(t, got.LabelConfidence)
	assert.Equal(t, domain.ConfidenceMedium, *got.LabelConfidence)
	assert.True(t, sig.ObservedAt.Equal(got.ObservedAt))
}

func TestSignalStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	_, err := store.GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSignalStore_PersistDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	sig := testSignal("AAPL")
	require.NoError(t, store.PersistScored(ctx, sig, nil))

	dup := testSignal("MSFT")
	dup.ID = sig.ID
	err := store.PersistScored(ctx, dup, nil)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSignalStore_PersistWithAlertIsAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	signals := NewSignalStore(pool)
	alerts := NewAlertStore(pool)
	ctx := context.Background()

	sig := testSignal("TSLA")
	alert := &domain.Alert{
		ID:        uuid.NewString(),
		SignalID:  sig.ID,
		EntityKey: sig.EntityKey,
		Reason:    domain.ReasonThresholdExceeded,
		Severity:  domain.SeverityHigh,
		Title:     "TSLA: bullish_options_skew (options_market)",
		CreatedAt: sig.CreatedAt,
	}
	require.NoError(t, signals.PersistScored(ctx, sig, alert))

	got, err := alerts.GetBySignalID(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, domain.ReasonThresholdExceeded, got.Reason)
	assert.Equal(t, domain.SeverityHigh, got.Severity)

	// A duplicate signal with an alert must roll back both writes.
	dup := testSignal("TSLA")
	dup.ID = sig.ID
	dupAlert := &domain.Alert{
		ID:        uuid.NewString(),
		SignalID:  dup.ID,
		EntityKey: dup.EntityKey,
		Reason:    domain.ReasonThresholdExceeded,
		Severity:  domain.SeverityWarn,
		CreatedAt: dup.CreatedAt,
	}
	err = signals.PersistScored(ctx, dup, dupAlert)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	recent, err := alerts.GetRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1, "rolled back alert must not be visible")
}

func TestSignalStore_PersistAlertSignalIDMismatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	sig := testSignal("AAPL")
	alert := &domain.Alert{ID: uuid.NewString(), SignalID: uuid.NewString(), EntityKey: "AAPL"}

	err := store.PersistScored(context.Background(), sig, alert)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSignalStore_GetRecentOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		sig := testSignal("AAPL")
		sig.CreatedAt = base.Add(time.Duration(i) * time.Second)
		ids[i] = sig.ID
		require.NoError(t, store.PersistScored(ctx, sig, nil))
	}

	got, err := store.GetRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[4], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)
	assert.Equal(t, ids[2], got[2].ID)
}

func TestSignalStore_GetRecentByEntity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	aapl := testSignal("AAPL")
	msft := testSignal("MSFT")
	require.NoError(t, store.PersistScored(ctx, aapl, nil))
	require.NoError(t, store.PersistScored(ctx, msft, nil))

	got, err := store.GetRecentByEntity(ctx, domain.SourceOptionsMarket, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, aapl.ID, got[0].ID)

	// Same entity key under a different source is a different entity.
	got, err = store.GetRecentByEntity(ctx, domain.SourceEquityMarket, "AAPL", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSignalStore_RecentFeaturesSkipsEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	withFeatures := testSignal("AAPL")
	empty := testSignal("MSFT")
	empty.Features = map[string]float64{}
	require.NoError(t, store.PersistScored(ctx, withFeatures, nil))
	require.NoError(t, store.PersistScored(ctx, empty, nil))

	feats, err := store.RecentFeatures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, 4.2, feats[0]["call_put_vol_ratio"])
}

func TestSignalStore_NilLabelRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSignalStore(pool)
	ctx := context.Background()

	sig := testSignal("KO")
	sig.HeuristicLabel = nil
	sig.LabelConfidence = nil
	sig.Untrained = true
	sig.AnomalyScore = 0
	require.NoError(t, store.PersistScored(ctx, sig, nil))

	got, err := store.GetByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.Nil(t, got.HeuristicLabel)
	assert.Nil(t, got.LabelConfidence)
	assert.True(t, got.Untrained)
}
