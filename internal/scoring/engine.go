// Package scoring merges the two independent judgments, the statistical
// anomaly score and the heuristic label, into one persisted Signal and an
// alert decision. Either trigger alone justifies an alert: the scorers
// answer different questions and neither subsumes the other.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"market-signal-lab/internal/anomaly"
	"market-signal-lab/internal/classify"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/feature"
	"market-signal-lab/internal/lifecycle"
	"market-signal-lab/internal/storage"
)

// Scorer maps a model vector to an anomaly result.
type Scorer interface {
	Score(vec []float64) (anomaly.Result, error)
}

// ModelSource yields the live scorer state per event, so every event scores
// against one self-consistent model even while refits swap it.
type ModelSource interface {
	Current() Scorer
}

// managerSource adapts lifecycle.Manager to ModelSource.
type managerSource struct {
	m *lifecycle.Manager
}

func (s managerSource) Current() Scorer {
	return s.m.Current()
}

// Models wraps a lifecycle manager as a ModelSource.
func Models(m *lifecycle.Manager) ModelSource {
	return managerSource{m: m}
}

// Config holds the alert policy. Zero-valued fields take the DefaultConfig
// values: a negative AnomalyThreshold alerts on every trained score, and an
// empty non-nil HighPriorityLabels disables the label trigger.
type Config struct {
	AnomalyThreshold   float64  // alert floor for the statistical trigger
	HighSeverityScore  float64  // at or above this, severity is high
	HighPriorityLabels []string // labels that alert regardless of score
}

// DefaultConfig mirrors the production policy.
func DefaultConfig() Config {
	return Config{
		AnomalyThreshold:   0.75,
		HighSeverityScore:  0.9,
		HighPriorityLabels: []string{classify.LabelInsiderTrade, classify.LabelCongressTrade},
	}
}

// Engine runs the scoring pipeline for one normalized event: feature
// extraction once, then anomaly scoring and heuristic classification (no
// data dependency between them), then the merge and the persisted write.
type Engine struct {
	extractor  *feature.Extractor
	classifier *classify.Classifier
	models     ModelSource
	signals    storage.SignalStore
	history    storage.MetricHistoryStore
	cfg        Config
	log        zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates an Engine.
func NewEngine(
	extractor *feature.Extractor,
	classifier *classify.Classifier,
	models ModelSource,
	signals storage.SignalStore,
	history storage.MetricHistoryStore,
	cfg Config,
	log zerolog.Logger,
) *Engine {
	def := DefaultConfig()
	if cfg.AnomalyThreshold == 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.HighSeverityScore == 0 {
		cfg.HighSeverityScore = def.HighSeverityScore
	}
	if cfg.HighPriorityLabels == nil {
		cfg.HighPriorityLabels = def.HighPriorityLabels
	}
	return &Engine{
		extractor:  extractor,
		classifier: classifier,
		models:     models,
		signals:    signals,
		history:    history,
		cfg:        cfg,
		log:        log.With().Str("component", "scoring").Logger(),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
}

// Outcome is the result of processing one event.
type Outcome struct {
	Signal *domain.Signal
	Alert  *domain.Alert // nil when the alert predicate did not hold
}

// ProcessEvent scores and persists one normalized event. Feature schema
// violations and persistence failures propagate to the caller; the batch
// runner isolates them per event.
func (e *Engine) ProcessEvent(ctx context.Context, ns *domain.NormalizedSignal) (*Outcome, error) {
	fv, err := e.extractor.Extract(ctx, ns)
	if err != nil {
		return nil, err
	}

	res, err := e.models.Current().Score(feature.Vectorize(fv.Map()))
	if err != nil {
		return nil, fmt.Errorf("anomaly scoring: %w", err)
	}

	sig := &domain.Signal{
		ID:            e.newID(),
		Source:        ns.Source,
		EntityKey:     ns.EntityKey,
		ObservedAt:    ns.ObservedAt,
		Metrics:       ns.Metrics,
		Features:      fv.Map(),
		AnomalyScore:  res.Score,
		Untrained:     res.Untrained,
		RawPayloadRef: ns.RawPayloadRef,
		CreatedAt:     e.now().UTC(),
	}
	if label, conf, ok := e.classifier.Classify(ns, fv); ok {
		sig.HeuristicLabel = &label
		c := conf
		sig.LabelConfidence = &c
	}

	alert := e.evaluateAlert(sig)

	if err := e.signals.PersistScored(ctx, sig, alert); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}

	// Record the observation for future z-scores only after the event
	// itself was scored, so no event influences its own baseline. A
	// failed append degrades future statistics but the signal is already
	// durable, so it is logged rather than failing the event.
	if err := e.history.Append(ctx, ns.Source, ns.EntityKey, ns.ObservedAt, ns.Metrics); err != nil {
		e.log.Warn().Err(err).
			Str("source", ns.Source.String()).
			Str("entity", ns.EntityKey).
			Msg("append metric history failed")
	}

	return &Outcome{Signal: sig, Alert: alert}, nil
}

// evaluateAlert applies the OR-of-two-triggers predicate. Untrained scores
// never satisfy the threshold trigger, whatever the threshold.
func (e *Engine) evaluateAlert(sig *domain.Signal) *domain.Alert {
	highPriority := sig.HeuristicLabel != nil && e.isHighPriority(*sig.HeuristicLabel)
	thresholdHit := !sig.Untrained && sig.AnomalyScore >= e.cfg.AnomalyThreshold

	var reason domain.AlertReason
	switch {
	case highPriority:
		reason = domain.ReasonHighPriorityPattern
	case thresholdHit:
		reason = domain.ReasonThresholdExceeded
	default:
		return nil
	}

	severity := domain.SeverityWarn
	if highPriority || sig.AnomalyScore >= e.cfg.HighSeverityScore {
		severity = domain.SeverityHigh
	}

	label := "anomalous_activity"
	if sig.HeuristicLabel != nil {
		label = *sig.HeuristicLabel
	}

	return &domain.Alert{
		ID:        e.newID(),
		SignalID:  sig.ID,
		EntityKey: sig.EntityKey,
		Reason:    reason,
		Severity:  severity,
		Title:     fmt.Sprintf("%s: %s (%s)", sig.EntityKey, label, sig.Source),
		CreatedAt: sig.CreatedAt,
	}
}

func (e *Engine) isHighPriority(label string) bool {
	for _, l := range e.cfg.HighPriorityLabels {
		if l == label {
			return true
		}
	}
	return false
}
