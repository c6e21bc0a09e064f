package anomaly

import (
	"time"
)

// Result is one scoring outcome. Untrained results carry the fixed neutral
// score so a cold system never produces threshold alerts.
type Result struct {
	Score     float64
	Untrained bool
}

// State is the fitted scorer state: one immutable value holding everything
// scoring needs. The lifecycle manager replaces the live State wholesale on
// refit; readers always observe a fully-formed State.
type State struct {
	forest      *Forest // nil when untrained
	sampleCount int
	fittedAt    time.Time
}

// NewUntrainedState returns a State that scores everything as neutral.
func NewUntrainedState() *State {
	return &State{}
}

// FitState fits a fresh State on the training matrix.
func FitState(data [][]float64, cfg Config, now time.Time) (*State, error) {
	forest, err := Fit(data, cfg)
	if err != nil {
		return nil, err
	}
	return &State{forest: forest, sampleCount: len(data), fittedAt: now}, nil
}

// Untrained reports whether this state has never been fit.
func (s *State) Untrained() bool {
	return s.forest == nil
}

// SampleCount returns the number of samples the state was fitted on.
func (s *State) SampleCount() int {
	return s.sampleCount
}

// FittedAt returns the fit timestamp, zero for untrained states.
func (s *State) FittedAt() time.Time {
	return s.fittedAt
}

// Score maps a model vector to [0,1]. An untrained state returns the neutral
// 0.0 flagged Untrained. Dimension mismatches are contract violations and
// surface as ErrDimensionMismatch.
func (s *State) Score(vec []float64) (Result, error) {
	if s.Untrained() {
		return Result{Score: 0, Untrained: true}, nil
	}
	score, err := s.forest.Score(vec)
	if err != nil {
		return Result{}, err
	}
	return Result{Score: score}, nil
}
