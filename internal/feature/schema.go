// Package feature derives fixed-length numeric vectors from normalized
// signals plus recent per-entity history. Output order is fixed per source;
// the extractor never produces NaN or Inf.
package feature

import (
	"errors"
	"fmt"

	"market-signal-lab/internal/domain"
)

// ErrSchema is the sentinel for unregistered sources and dimension mismatches.
// Both are config/programming defects, surfaced loudly rather than swallowed.
var ErrSchema = errors.New("feature schema violation")

// SchemaError reports a source type with no registered feature schema.
type SchemaError struct {
	Source domain.Source
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no feature schema registered for source %q", e.Source)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// Feature names. The anomaly model consumes one global fixed-order vector
// across sources; features a source does not produce are imputed with 0.
const (
	FeatRet1             = "ret_1"              // 1-step price return
	FeatPriceZ           = "price_z"            // price z-score vs trailing window
	FeatVolZ             = "vol_z"              // volume z-score vs trailing window
	FeatRetVol           = "ret_vol"            // stddev of trailing returns
	FeatCallPutVolRatio  = "call_put_vol_ratio" // call volume / put volume
	FeatCallPutOIRatio   = "call_put_oi_ratio"  // call OI / put OI
	FeatOptVolZ          = "opt_vol_z"          // combined options volume z-score
	FeatOddsDelta        = "odds_delta"         // change in implied probability
	FeatOddsZ            = "odds_z"             // odds z-score vs trailing window
	FeatTradeValueLog    = "trade_value_log"    // log1p of disclosed trade value
	FeatTradeValueZ      = "trade_value_z"      // trade value z-score vs trailing window
	FeatNotionalLog      = "notional_log"       // log1p of event notional, cross-source
)

// schemas fixes the feature order per source. New features are appended,
// never reordered, so persisted feature maps stay comparable across refits.
var schemas = map[domain.Source][]string{
	domain.SourceEquityMarket: {
		FeatRet1, FeatPriceZ, FeatVolZ, FeatRetVol, FeatNotionalLog,
	},
	domain.SourceOptionsMarket: {
		FeatCallPutVolRatio, FeatCallPutOIRatio, FeatOptVolZ, FeatVolZ, FeatNotionalLog,
	},
	domain.SourcePredictionMarket: {
		FeatOddsDelta, FeatOddsZ, FeatVolZ, FeatNotionalLog,
	},
	domain.SourceLegislativeDisclosure: {
		FeatTradeValueLog, FeatTradeValueZ, FeatNotionalLog,
	},
}

// modelOrder is the global column order the anomaly model trains and scores
// on. Column position is part of the persisted model contract.
var modelOrder = []string{
	FeatRet1,
	FeatPriceZ,
	FeatVolZ,
	FeatRetVol,
	FeatCallPutVolRatio,
	FeatCallPutOIRatio,
	FeatOptVolZ,
	FeatOddsDelta,
	FeatOddsZ,
	FeatTradeValueLog,
	FeatTradeValueZ,
	FeatNotionalLog,
}

// Schema returns the registered feature order for a source, or SchemaError.
func Schema(source domain.Source) ([]string, error) {
	names, ok := schemas[source]
	if !ok {
		return nil, &SchemaError{Source: source}
	}
	return names, nil
}

// ModelOrder returns the global fixed column order for model vectors.
func ModelOrder() []string {
	out := make([]string, len(modelOrder))
	copy(out, modelOrder)
	return out
}

// ModelDim is the dimensionality of model vectors.
func ModelDim() int {
	return len(modelOrder)
}

// Vectorize converts a feature map into a fixed-order model vector,
// imputing 0 for absent features.
func Vectorize(features map[string]float64) []float64 {
	vec := make([]float64, len(modelOrder))
	for i, name := range modelOrder {
		if v, ok := features[name]; ok {
			vec[i] = sanitize(v)
		}
	}
	return vec
}
