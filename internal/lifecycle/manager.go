// Package lifecycle owns the fitted anomaly scorer state: bootstrap at
// process start, on-demand or periodic refit, and the atomic swap that keeps
// in-flight scoring from ever observing a half-updated model.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"market-signal-lab/internal/anomaly"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/feature"
	"market-signal-lab/internal/observability"
)

// ErrInsufficientHistory is returned when fewer samples than MinFitSamples
// are available. The previous state, even an untrained one, stays live.
var ErrInsufficientHistory = errors.New("insufficient history to fit model")

// FeatureSource supplies historical feature maps for fitting. Implemented by
// storage.SignalStore.
type FeatureSource interface {
	RecentFeatures(ctx context.Context, limit int) ([]map[string]float64, error)
}

// Config bounds the fit procedure.
type Config struct {
	MinFitSamples  int            // below this, stay/remain untrained
	BootstrapLimit int            // most recent M signals consulted per fit
	RefitTimeout   time.Duration  // 0 means no time box
	Forest         anomaly.Config // forest hyperparameters
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		MinFitSamples:  50,
		BootstrapLimit: 2000,
		RefitTimeout:   2 * time.Minute,
		Forest:         anomaly.DefaultConfig(),
	}
}

// RefitResult reports a successful fit to the administrative caller.
type RefitResult struct {
	SampleCount int       `json:"sample_count"`
	FittedAt    time.Time `json:"fitted_at"`
}

// Manager holds the live scorer state. Exactly one state is live at a time;
// Refit builds a replacement entirely before publishing it, so readers see
// either the old or the new state, never a partial one.
type Manager struct {
	features FeatureSource
	cfg      Config
	log      zerolog.Logger

	state   atomic.Pointer[anomaly.State]
	refitMu sync.Mutex // serializes fits; never held by readers

	now     func() time.Time
	metrics *observability.Metrics
}

// NewManager creates a Manager with an untrained state installed.
func NewManager(features FeatureSource, cfg Config, log zerolog.Logger) *Manager {
	if cfg.MinFitSamples <= 0 {
		cfg = DefaultConfig()
	}
	m := &Manager{
		features: features,
		cfg:      cfg,
		log:      log.With().Str("component", "lifecycle").Logger(),
		now:      time.Now,
	}
	m.state.Store(anomaly.NewUntrainedState())
	return m
}

// WithMetrics attaches Prometheus metrics to the manager.
func (m *Manager) WithMetrics(metrics *observability.Metrics) *Manager {
	m.metrics = metrics
	metrics.RecordModelState(false, 0, 0)
	return m
}

// Current returns the live scorer state. Never nil; always fully formed.
func (m *Manager) Current() *anomaly.State {
	return m.state.Load()
}

// Bootstrap fits the initial state from accumulated history at process
// start. Insufficient history is not an error: the system starts with an
// explicitly-untrained state rather than fitting on too little data.
func (m *Manager) Bootstrap(ctx context.Context) error {
	_, err := m.refit(ctx)
	if errors.Is(err, ErrInsufficientHistory) {
		m.log.Warn().Msg("bootstrap: not enough history, starting untrained")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// Refit refits against the latest history and atomically replaces the live
// state. On any failure the previous state remains live and the error is
// reported to the caller; the system is never left without a usable state.
func (m *Manager) Refit(ctx context.Context) (RefitResult, error) {
	res, err := m.refit(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RefitFailures.Inc()
		}
		m.log.Error().Err(err).Msg("refit failed, previous state stays live")
		return RefitResult{}, err
	}
	m.log.Info().Int("samples", res.SampleCount).Msg("model refitted")
	return res, nil
}

func (m *Manager) refit(ctx context.Context) (RefitResult, error) {
	m.refitMu.Lock()
	defer m.refitMu.Unlock()

	start := m.now()
	defer func() {
		if m.metrics != nil {
			m.metrics.RefitDuration.Observe(m.now().Sub(start).Seconds())
		}
	}()

	if m.cfg.RefitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RefitTimeout)
		defer cancel()
	}

	maps, err := m.features.RecentFeatures(ctx, m.cfg.BootstrapLimit)
	if err != nil {
		return RefitResult{}, fmt.Errorf("fetch training history: %w", err)
	}
	if len(maps) < m.cfg.MinFitSamples {
		return RefitResult{}, fmt.Errorf("%w: have %d samples, need %d",
			ErrInsufficientHistory, len(maps), m.cfg.MinFitSamples)
	}

	data := make([][]float64, len(maps))
	for i, fm := range maps {
		data[i] = feature.Vectorize(fm)
	}

	fitted, err := anomaly.FitState(data, m.cfg.Forest, m.now())
	if err != nil {
		return RefitResult{}, fmt.Errorf("fit forest: %w", err)
	}

	// A fit that outlived its time box must not be published: the caller
	// already treats it as failed.
	if err := ctx.Err(); err != nil {
		return RefitResult{}, fmt.Errorf("refit timed out: %w", err)
	}

	m.state.Store(fitted)
	m.metrics.RecordModelState(true, fitted.SampleCount(), fitted.FittedAt().Unix())
	return RefitResult{SampleCount: fitted.SampleCount(), FittedAt: fitted.FittedAt()}, nil
}

// Health reports the live model state for the admin API.
func (m *Manager) Health() domain.ModelHealth {
	st := m.Current()
	health := domain.ModelHealth{
		Fitted:      !st.Untrained(),
		SampleCount: st.SampleCount(),
	}
	if !st.Untrained() {
		t := st.FittedAt()
		health.LastFitAt = &t
	}
	return health
}
