// Package normalize converts raw per-source payloads into the canonical
// NormalizedSignal representation. It performs no I/O and is pure given its
// input: unknown fields are dropped, known optional metrics default to absent
// (not zero), and a payload missing its identity fields is rejected.
package normalize

import (
	"errors"
	"fmt"
	"time"

	"market-signal-lab/internal/domain"
)

// ErrInvalidPayload is the sentinel all normalization failures wrap.
var ErrInvalidPayload = errors.New("invalid payload")

// Error reports a malformed or incomplete raw payload. The event is dropped
// and the batch continues.
type Error struct {
	Source domain.Source
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s payload: field %q %s", e.Source, e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidPayload
}

// RawPayload is the source-tagged field mapping handed over by an adapter.
type RawPayload struct {
	Source domain.Source
	Fields map[string]any
	Ref    string // provenance reference kept on the signal for audit
}

// metricFields lists the numeric fields recognized per source. Anything else
// in a payload is dropped silently.
var metricFields = map[domain.Source][]string{
	domain.SourceEquityMarket:          {"price", "volume", "notional"},
	domain.SourceOptionsMarket:         {"call_volume", "put_volume", "call_oi", "put_oi", "notional"},
	domain.SourcePredictionMarket:      {"odds", "odds_delta", "volume", "notional"},
	domain.SourceLegislativeDisclosure: {"trade_value", "notional"},
}

// Normalize produces exactly one NormalizedSignal from a raw payload, or an
// *Error when entity_key or observed_at is absent or malformed.
func Normalize(p RawPayload) (*domain.NormalizedSignal, error) {
	if !p.Source.IsValid() {
		return nil, &Error{Source: p.Source, Field: "source", Reason: "is not a known source"}
	}

	entityKey, err := stringField(p, "entity_key")
	if err != nil {
		return nil, err
	}

	observedAt, err := timeField(p, "observed_at")
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]float64)
	for _, name := range metricFields[p.Source] {
		raw, ok := p.Fields[name]
		if !ok {
			continue // absent stays absent, never zero
		}
		v, ok := asFloat(raw)
		if !ok {
			return nil, &Error{Source: p.Source, Field: name, Reason: "is not numeric"}
		}
		metrics[name] = v
	}

	return &domain.NormalizedSignal{
		Source:        p.Source,
		EntityKey:     entityKey,
		ObservedAt:    observedAt.UTC(),
		Metrics:       metrics,
		RawPayloadRef: p.Ref,
	}, nil
}

func stringField(p RawPayload, name string) (string, error) {
	raw, ok := p.Fields[name]
	if !ok {
		return "", &Error{Source: p.Source, Field: name, Reason: "is required"}
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", &Error{Source: p.Source, Field: name, Reason: "must be a non-empty string"}
	}
	return s, nil
}

func timeField(p RawPayload, name string) (time.Time, error) {
	raw, ok := p.Fields[name]
	if !ok {
		return time.Time{}, &Error{Source: p.Source, Field: name, Reason: "is required"}
	}
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, &Error{Source: p.Source, Field: name, Reason: "is zero"}
		}
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, &Error{Source: p.Source, Field: name, Reason: "is not RFC3339"}
		}
		return t, nil
	case int64:
		return time.Unix(v, 0), nil
	case float64:
		return time.Unix(int64(v), 0), nil
	default:
		return time.Time{}, &Error{Source: p.Source, Field: name, Reason: "has unsupported type"}
	}
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
