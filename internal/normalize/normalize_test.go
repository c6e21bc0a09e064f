package normalize

import (
	"errors"
	"testing"
	"time"

	"market-signal-lab/internal/domain"
)

func validEquityPayload() RawPayload {
	return RawPayload{
		Source: domain.SourceEquityMarket,
		Fields: map[string]any{
			"entity_key":  "AAPL",
			"observed_at": time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
			"price":       187.3,
			"volume":      1_200_000.0,
		},
		Ref: "equity:batch-42",
	}
}

func TestNormalize_ValidPayload(t *testing.T) {
	ns, err := Normalize(validEquityPayload())
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if ns.EntityKey != "AAPL" {
		t.Errorf("EntityKey = %q, want AAPL", ns.EntityKey)
	}
	if ns.Source != domain.SourceEquityMarket {
		t.Errorf("Source = %q, want equity_market", ns.Source)
	}
	if v, ok := ns.Metric("price"); !ok || v != 187.3 {
		t.Errorf("price = (%f, %v), want (187.3, true)", v, ok)
	}
	if ns.RawPayloadRef != "equity:batch-42" {
		t.Errorf("RawPayloadRef = %q", ns.RawPayloadRef)
	}
}

func TestNormalize_MissingEntityKey(t *testing.T) {
	p := validEquityPayload()
	delete(p.Fields, "entity_key")

	_, err := Normalize(p)
	if err == nil {
		t.Fatal("expected error for missing entity_key")
	}
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("error does not wrap ErrInvalidPayload: %v", err)
	}
	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("error is not *Error: %v", err)
	}
	if nerr.Field != "entity_key" {
		t.Errorf("Field = %q, want entity_key", nerr.Field)
	}
}

func TestNormalize_MalformedObservedAt(t *testing.T) {
	p := validEquityPayload()
	p.Fields["observed_at"] = "yesterday-ish"

	if _, err := Normalize(p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestNormalize_RFC3339ObservedAt(t *testing.T) {
	p := validEquityPayload()
	p.Fields["observed_at"] = "2025-06-01T14:30:00Z"

	ns, err := Normalize(p)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	if !ns.ObservedAt.Equal(want) {
		t.Errorf("ObservedAt = %v, want %v", ns.ObservedAt, want)
	}
}

func TestNormalize_UnknownFieldsDropped(t *testing.T) {
	p := validEquityPayload()
	p.Fields["exchange"] = "NASDAQ"
	p.Fields["call_volume"] = 5.0 // options metric, not recognized for equity

	ns, err := Normalize(p)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if _, ok := ns.Metric("exchange"); ok {
		t.Error("unknown string field leaked into metrics")
	}
	if _, ok := ns.Metric("call_volume"); ok {
		t.Error("foreign-source metric leaked into metrics")
	}
}

func TestNormalize_AbsentMetricStaysAbsent(t *testing.T) {
	p := validEquityPayload()
	delete(p.Fields, "volume")

	ns, err := Normalize(p)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if _, ok := ns.Metric("volume"); ok {
		t.Error("absent metric must not appear in the map")
	}
}

func TestNormalize_NonNumericMetric(t *testing.T) {
	p := validEquityPayload()
	p.Fields["price"] = "expensive"

	if _, err := Normalize(p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestNormalize_UnknownSource(t *testing.T) {
	p := validEquityPayload()
	p.Source = domain.Source("weather_market")

	if _, err := Normalize(p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
