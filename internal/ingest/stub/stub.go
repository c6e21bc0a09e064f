// Package stub provides synthetic source adapters for local runs and
// demos. Each adapter emits a small batch of plausible events per fetch,
// with an occasional outlier so the downstream scorers have something to
// find.
package stub

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/ingest"
	"market-signal-lab/internal/normalize"
)

// Adapter generates synthetic payloads for one source.
type Adapter struct {
	source   domain.Source
	entities []string
	batch    int

	mu  sync.Mutex
	rng *rand.Rand
	seq int
}

var _ ingest.SourceAdapter = (*Adapter)(nil)

// New creates a stub adapter for source emitting batch events per fetch.
func New(source domain.Source, entities []string, batch int, seed int64) *Adapter {
	if batch <= 0 {
		batch = 8
	}
	return &Adapter{
		source:   source,
		entities: entities,
		batch:    batch,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// All returns one stub adapter per source, deterministically seeded.
func All(seed int64) []ingest.SourceAdapter {
	tickers := []string{"AAPL", "MSFT", "NVDA", "TSLA", "KO"}
	markets := []string{"election-2026-senate", "rate-cut-march", "cpi-above-3pct"}
	filers := []string{"sen-00123", "rep-00456", "sen-00789"}
	return []ingest.SourceAdapter{
		New(domain.SourceEquityMarket, tickers, 10, seed),
		New(domain.SourceOptionsMarket, tickers, 10, seed+1),
		New(domain.SourcePredictionMarket, markets, 6, seed+2),
		New(domain.SourceLegislativeDisclosure, filers, 3, seed+3),
	}
}

func (a *Adapter) Source() domain.Source {
	return a.source
}

func (a *Adapter) Fetch(ctx context.Context) ([]normalize.RawPayload, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	payloads := make([]normalize.RawPayload, 0, a.batch)
	for i := 0; i < a.batch; i++ {
		entity := a.entities[a.rng.Intn(len(a.entities))]
		a.seq++

		fields := map[string]any{
			"entity_key":  entity,
			"observed_at": now.Add(-time.Duration(i) * time.Second),
		}
		spike := a.rng.Float64() < 0.05
		switch a.source {
		case domain.SourceEquityMarket:
			price := 50 + a.rng.Float64()*200
			volume := 5e5 + a.rng.Float64()*5e5
			if spike {
				price *= 1.08
				volume *= 6
			}
			fields["price"] = price
			fields["volume"] = volume
			fields["notional"] = price * volume
		case domain.SourceOptionsMarket:
			call := 5_000 + a.rng.Float64()*10_000
			put := 5_000 + a.rng.Float64()*10_000
			if spike {
				call *= 8
			}
			fields["call_volume"] = call
			fields["put_volume"] = put
			fields["call_oi"] = call * 6
			fields["put_oi"] = put * 6
			fields["notional"] = (call + put) * 120
		case domain.SourcePredictionMarket:
			odds := 0.2 + a.rng.Float64()*0.6
			delta := (a.rng.Float64() - 0.5) * 0.04
			if spike {
				delta = 0.18
			}
			fields["odds"] = odds
			fields["odds_delta"] = delta
			fields["volume"] = 1e4 + a.rng.Float64()*4e4
			fields["notional"] = 1e5
		case domain.SourceLegislativeDisclosure:
			value := 5_000 + a.rng.Float64()*40_000
			if spike {
				value = 150_000 + a.rng.Float64()*500_000
			}
			fields["trade_value"] = value
			fields["notional"] = value
		}

		payloads = append(payloads, normalize.RawPayload{
			Source: a.source,
			Fields: fields,
			Ref:    fmt.Sprintf("stub:%s:%d", a.source, a.seq),
		})
	}
	return payloads, nil
}
