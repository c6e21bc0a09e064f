// Package ingest drives batch cycles over the configured source adapters.
// Sources run concurrently; within a source, events run in order. One bad
// event, or one dead source, never takes down the cycle.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/normalize"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/scoring"
)

// EventProcessor scores and persists one normalized event.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, ns *domain.NormalizedSignal) (*scoring.Outcome, error)
}

// RunResult aggregates one cycle's counters across all sources.
type RunResult struct {
	Fetched     int // raw events returned by adapters
	Scored      int // signals persisted
	Alerts      int // alerts raised
	Rejected    int // dropped at normalization
	Failed      int // scoring or persistence failures
	Unavailable int // sources skipped this cycle
}

func (r *RunResult) add(o RunResult) {
	r.Fetched += o.Fetched
	r.Scored += o.Scored
	r.Alerts += o.Alerts
	r.Rejected += o.Rejected
	r.Failed += o.Failed
	r.Unavailable += o.Unavailable
}

// Runner executes ingestion cycles.
type Runner struct {
	adapters  []SourceAdapter
	processor EventProcessor
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// NewRunner creates a Runner over the given adapters.
func NewRunner(adapters []SourceAdapter, processor EventProcessor, log zerolog.Logger) *Runner {
	return &Runner{
		adapters:  adapters,
		processor: processor,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// WithMetrics attaches Prometheus metrics to the runner.
func (r *Runner) WithMetrics(m *observability.Metrics) *Runner {
	r.metrics = m
	return r
}

// RunOnce runs a single cycle: every adapter fetched concurrently, every
// event normalized, scored, and persisted. Only context cancellation is
// returned as an error; everything else is counted and logged.
func (r *Runner) RunOnce(ctx context.Context) (RunResult, error) {
	start := time.Now()
	results := make([]RunResult, len(r.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range r.adapters {
		g.Go(func() error {
			res, err := r.runSource(gctx, adapter)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return RunResult{}, err
	}

	var total RunResult
	for _, res := range results {
		total.add(res)
	}
	if r.metrics != nil {
		r.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	r.log.Info().
		Int("fetched", total.Fetched).
		Int("scored", total.Scored).
		Int("alerts", total.Alerts).
		Int("rejected", total.Rejected).
		Int("failed", total.Failed).
		Int("unavailable", total.Unavailable).
		Msg("ingest cycle complete")
	return total, nil
}

func (r *Runner) runSource(ctx context.Context, adapter SourceAdapter) (RunResult, error) {
	var res RunResult
	source := adapter.Source().String()
	log := r.log.With().Str("source", source).Logger()

	payloads, err := adapter.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if errors.Is(err, ErrSourceUnavailable) {
			log.Warn().Err(err).Msg("source unavailable, skipping cycle")
		} else {
			log.Error().Err(err).Msg("fetch failed, skipping cycle")
		}
		res.Unavailable++
		if r.metrics != nil {
			r.metrics.SourcesUnavailable.WithLabelValues(source).Inc()
		}
		return res, nil
	}
	res.Fetched = len(payloads)
	if r.metrics != nil {
		r.metrics.EventsFetched.WithLabelValues(source).Add(float64(len(payloads)))
	}

	for _, p := range payloads {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		ns, err := normalize.Normalize(p)
		if err != nil {
			res.Rejected++
			if r.metrics != nil {
				r.metrics.EventsRejected.WithLabelValues(source).Inc()
			}
			log.Warn().Err(err).Str("ref", p.Ref).Msg("payload rejected")
			continue
		}

		out, err := r.processor.ProcessEvent(ctx, ns)
		if err != nil {
			res.Failed++
			if r.metrics != nil {
				r.metrics.ScoringFailures.WithLabelValues(source).Inc()
			}
			log.Error().Err(err).
				Str("entity", ns.EntityKey).
				Msg("event scoring failed")
			continue
		}

		res.Scored++
		if r.metrics != nil {
			r.metrics.SignalsScored.WithLabelValues(source).Inc()
		}
		if out.Alert != nil {
			res.Alerts++
			r.metrics.RecordAlert(string(out.Alert.Reason), string(out.Alert.Severity))
			log.Info().
				Str("alert_id", out.Alert.ID).
				Str("entity", out.Alert.EntityKey).
				Str("reason", string(out.Alert.Reason)).
				Str("severity", string(out.Alert.Severity)).
				Msg("alert raised")
		}
	}
	return res, nil
}

// Loop runs cycles on a fixed cadence until the context is cancelled. The
// first cycle runs immediately.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
