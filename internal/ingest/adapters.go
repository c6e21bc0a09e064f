package ingest

import (
	"context"
	"errors"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/normalize"
)

// ErrSourceUnavailable marks a transient upstream failure. The cycle skips
// the source and the next cycle retries it.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceAdapter fetches one batch of raw events from an upstream feed.
// Adapters are the only code that knows upstream wire formats; everything
// past the fetch speaks normalize.RawPayload.
type SourceAdapter interface {
	Source() domain.Source
	Fetch(ctx context.Context) ([]normalize.RawPayload, error)
}

// disabledAdapter stands in for a source that is configured off. It is
// always unavailable, which the runner counts but does not treat as an
// error.
type disabledAdapter struct {
	source domain.Source
}

// Disabled returns an adapter that always reports ErrSourceUnavailable.
func Disabled(source domain.Source) SourceAdapter {
	return disabledAdapter{source: source}
}

func (a disabledAdapter) Source() domain.Source {
	return a.source
}

func (a disabledAdapter) Fetch(ctx context.Context) ([]normalize.RawPayload, error) {
	return nil, ErrSourceUnavailable
}
