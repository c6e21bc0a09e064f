// Package classify assigns categorical labels to normalized signals via an
// ordered table of source-scoped rules. First match wins; rule order encodes
// priority. New rules are appended, never edits to existing ones, so labeled
// history stays auditable.
package classify

import (
	"math"

	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/feature"
)

// Known labels.
const (
	LabelInsiderTrade       = "insider_trade"
	LabelCongressTrade      = "congress_trade"
	LabelBullishOptionsSkew = "bullish_options_skew"
	LabelBearishOptionsSkew = "bearish_options_skew"
	LabelPriceVolumeSpike   = "price_volume_spike"
	LabelHighVolatility     = "high_volatility"
	LabelPredictionSwing    = "prediction_swing"
)

// Rule is one pure predicate over a signal and its features.
type Rule struct {
	Name       string
	Source     domain.Source // rules are source-scoped, so ties are impossible
	Label      string
	Confidence domain.Confidence
	Match      func(ns *domain.NormalizedSignal, fv *domain.FeatureVector) bool
}

// Config holds the rule thresholds.
type Config struct {
	InsiderTradeValueMin float64 // disclosure notional at or above this is an insider trade
	SkewRatioBullish     float64 // call/put ratio at or above this is bullish
	SkewRatioBearish     float64 // call/put ratio at or below this is bearish
	SpikeReturnMin       float64 // |ret_1| above this qualifies a spike
	SpikeVolumeZMin      float64 // |vol_z| above this qualifies a spike
	VolatilityMin        float64 // ret_vol above this is a high-volatility regime
	OddsSwingMin         float64 // |odds_delta| at or above this is a swing
}

// DefaultConfig mirrors the production thresholds.
func DefaultConfig() Config {
	return Config{
		InsiderTradeValueMin: 100_000,
		SkewRatioBullish:     3.0,
		SkewRatioBearish:     0.33,
		SpikeReturnMin:       0.02,
		SpikeVolumeZMin:      2.0,
		VolatilityMin:        0.03,
		OddsSwingMin:         0.10,
	}
}

// Classifier evaluates the ordered rule table.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier with the default rule set.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{rules: defaultRules(cfg)}
}

// NewClassifierWithRules builds a classifier from an explicit ordered list.
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the first matching rule's label and confidence tier, or
// ok=false when no rule matches. Evaluation is deterministic and
// order-respecting.
func (c *Classifier) Classify(ns *domain.NormalizedSignal, fv *domain.FeatureVector) (string, domain.Confidence, bool) {
	for _, r := range c.rules {
		if r.Source != ns.Source {
			continue
		}
		if r.Match(ns, fv) {
			return r.Label, r.Confidence, true
		}
	}
	return "", "", false
}

// defaultRules is the production rule table, highest priority first.
func defaultRules(cfg Config) []Rule {
	return []Rule{
		{
			Name:       "disclosure_insider_trade",
			Source:     domain.SourceLegislativeDisclosure,
			Label:      LabelInsiderTrade,
			Confidence: domain.ConfidenceHigh,
			Match: func(ns *domain.NormalizedSignal, _ *domain.FeatureVector) bool {
				v, ok := ns.Metric("trade_value")
				return ok && v >= cfg.InsiderTradeValueMin
			},
		},
		{
			Name:       "disclosure_congress_trade",
			Source:     domain.SourceLegislativeDisclosure,
			Label:      LabelCongressTrade,
			Confidence: domain.ConfidenceMedium,
			Match: func(_ *domain.NormalizedSignal, _ *domain.FeatureVector) bool {
				return true
			},
		},
		{
			Name:       "options_bullish_skew_confirmed",
			Source:     domain.SourceOptionsMarket,
			Label:      LabelBullishOptionsSkew,
			Confidence: domain.ConfidenceHigh,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return fv.GetOr(feature.FeatCallPutVolRatio, 1) >= cfg.SkewRatioBullish &&
					fv.GetOr(feature.FeatOptVolZ, 0) > cfg.SpikeVolumeZMin
			},
		},
		{
			Name:       "options_bullish_skew",
			Source:     domain.SourceOptionsMarket,
			Label:      LabelBullishOptionsSkew,
			Confidence: domain.ConfidenceMedium,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return fv.GetOr(feature.FeatCallPutVolRatio, 1) >= cfg.SkewRatioBullish
			},
		},
		{
			Name:       "options_bearish_skew_confirmed",
			Source:     domain.SourceOptionsMarket,
			Label:      LabelBearishOptionsSkew,
			Confidence: domain.ConfidenceHigh,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return fv.GetOr(feature.FeatCallPutVolRatio, 1) <= cfg.SkewRatioBearish &&
					fv.GetOr(feature.FeatOptVolZ, 0) > cfg.SpikeVolumeZMin
			},
		},
		{
			Name:       "options_bearish_skew",
			Source:     domain.SourceOptionsMarket,
			Label:      LabelBearishOptionsSkew,
			Confidence: domain.ConfidenceMedium,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return fv.GetOr(feature.FeatCallPutVolRatio, 1) <= cfg.SkewRatioBearish
			},
		},
		{
			Name:       "equity_price_volume_spike",
			Source:     domain.SourceEquityMarket,
			Label:      LabelPriceVolumeSpike,
			Confidence: domain.ConfidenceMedium,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return math.Abs(fv.GetOr(feature.FeatRet1, 0)) > cfg.SpikeReturnMin &&
					math.Abs(fv.GetOr(feature.FeatVolZ, 0)) > cfg.SpikeVolumeZMin
			},
		},
		{
			Name:       "equity_high_volatility",
			Source:     domain.SourceEquityMarket,
			Label:      LabelHighVolatility,
			Confidence: domain.ConfidenceLow,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return fv.GetOr(feature.FeatRetVol, 0) > cfg.VolatilityMin
			},
		},
		{
			Name:       "prediction_odds_swing",
			Source:     domain.SourcePredictionMarket,
			Label:      LabelPredictionSwing,
			Confidence: domain.ConfidenceMedium,
			Match: func(_ *domain.NormalizedSignal, fv *domain.FeatureVector) bool {
				return math.Abs(fv.GetOr(feature.FeatOddsDelta, 0)) >= cfg.OddsSwingMin
			},
		},
	}
}
