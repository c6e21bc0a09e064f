package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/lifecycle"
	"market-signal-lab/internal/storage/memory"
)

type fakeAdmin struct {
	health   domain.ModelHealth
	refitRes lifecycle.RefitResult
	refitErr error
}

func (a *fakeAdmin) Refit(ctx context.Context) (lifecycle.RefitResult, error) {
	return a.refitRes, a.refitErr
}

func (a *fakeAdmin) Health() domain.ModelHealth { return a.health }

func seedSignal(t *testing.T, store *memory.SignalStore, id, entity string, score float64, alert *domain.Alert) {
	t.Helper()
	sig := &domain.Signal{
		ID:           id,
		Source:       domain.SourceEquityMarket,
		EntityKey:    entity,
		ObservedAt:   time.Now().UTC(),
		Metrics:      map[string]float64{"price": 100},
		Features:     map[string]float64{"ret_1": 0.01},
		AnomalyScore: score,
		CreatedAt:    time.Now().UTC(),
	}
	if alert != nil {
		alert.SignalID = id
		alert.EntityKey = entity
	}
	if err := store.PersistScored(context.Background(), sig, alert); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func newTestServer(t *testing.T, admin ModelAdmin) (*Server, *memory.SignalStore) {
	t.Helper()
	signals := memory.NewSignalStore()
	if admin == nil {
		admin = &fakeAdmin{}
	}
	return New(signals, memory.NewAlertStore(signals), admin, 0, zerolog.Nop()), signals
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetSignals(t *testing.T) {
	srv, signals := newTestServer(t, nil)
	seedSignal(t, signals, "sig-1", "AAPL", 0.2, nil)
	seedSignal(t, signals, "sig-2", "MSFT", 0.8, nil)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/signals")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Signals []domain.Signal `json:"signals"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Signals) != 2 {
		t.Fatalf("count = %d, signals = %d, want 2", body.Count, len(body.Signals))
	}
	// Newest first.
	if body.Signals[0].ID != "sig-2" {
		t.Errorf("first signal = %s, want sig-2", body.Signals[0].ID)
	}
}

func TestGetSignals_EntityFilter(t *testing.T) {
	srv, signals := newTestServer(t, nil)
	seedSignal(t, signals, "sig-1", "AAPL", 0.2, nil)
	seedSignal(t, signals, "sig-2", "MSFT", 0.8, nil)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/signals?source=equity_market&entity_key=AAPL")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Signals []domain.Signal `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Signals) != 1 || body.Signals[0].EntityKey != "AAPL" {
		t.Fatalf("signals = %+v, want only AAPL", body.Signals)
	}
}

func TestGetSignals_EntityFilterRequiresSource(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/signals?entity_key=AAPL")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetSignal_WithAlert(t *testing.T) {
	srv, signals := newTestServer(t, nil)
	seedSignal(t, signals, "sig-1", "AAPL", 0.95, &domain.Alert{
		ID:       "alert-1",
		Reason:   domain.ReasonThresholdExceeded,
		Severity: domain.SeverityHigh,
	})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/signals/sig-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Signal domain.Signal `json:"signal"`
		Alert  *domain.Alert `json:"alert"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Signal.ID != "sig-1" {
		t.Errorf("signal = %s, want sig-1", body.Signal.ID)
	}
	if body.Alert == nil || body.Alert.ID != "alert-1" {
		t.Errorf("alert = %+v, want alert-1", body.Alert)
	}
}

func TestGetSignal_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/signals/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetAlerts(t *testing.T) {
	srv, signals := newTestServer(t, nil)
	seedSignal(t, signals, "sig-1", "AAPL", 0.95, &domain.Alert{
		ID: "alert-1", Reason: domain.ReasonThresholdExceeded, Severity: domain.SeverityHigh,
	})
	seedSignal(t, signals, "sig-2", "KO", 0.1, nil)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Alerts []domain.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
}

func TestGetModel(t *testing.T) {
	fitted := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, &fakeAdmin{
		health: domain.ModelHealth{Fitted: true, SampleCount: 420, LastFitAt: &fitted},
	})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/api/v1/admin/model")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body domain.ModelHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Fitted || body.SampleCount != 420 {
		t.Fatalf("health = %+v", body)
	}
}

func TestPostRefit(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmin{
		refitRes: lifecycle.RefitResult{SampleCount: 180, FittedAt: time.Now().UTC()},
	})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/admin/refit")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body lifecycle.RefitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SampleCount != 180 {
		t.Fatalf("sample_count = %d, want 180", body.SampleCount)
	}
}

func TestPostRefit_InsufficientHistory(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAdmin{refitErr: lifecycle.ErrInsufficientHistory})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/api/v1/admin/refit")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestQueryLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", defaultLimit},
		{"25", 25},
		{"0", defaultLimit},
		{"-3", defaultLimit},
		{"junk", defaultLimit},
		{"9999", maxLimit},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/signals?limit="+tc.raw, nil)
		if got := queryLimit(r); got != tc.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
