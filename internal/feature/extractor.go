package feature

import (
	"context"
	"fmt"
	"math"

	"market-signal-lab/internal/domain"
)

// HistoryProvider supplies the bounded trailing window of prior metric
// observations for one entity+source, ordered oldest to newest. Implemented
// by the storage layer; the extractor itself never writes.
type HistoryProvider interface {
	RecentMetrics(ctx context.Context, source domain.Source, entityKey string, limit int) ([]map[string]float64, error)
}

// Config bounds the trailing-window statistics.
type Config struct {
	Window     int     // trailing observations consulted per metric
	MinHistory int     // below this many prior observations, z-scores stay 0
	Clamp      float64 // z-scores clamped to [-Clamp, Clamp]
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{Window: 30, MinHistory: 10, Clamp: 10}
}

// Extractor derives FeatureVectors from signals and history.
type Extractor struct {
	history HistoryProvider
	cfg     Config
}

// NewExtractor creates an Extractor reading history from the given provider.
func NewExtractor(history HistoryProvider, cfg Config) *Extractor {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Extractor{history: history, cfg: cfg}
}

// Extract computes the feature vector for one signal. It fails with a
// *SchemaError for unregistered sources, and with a wrapped provider error
// when the history read fails. Every emitted value is finite and z-scores
// are clamped; insufficient history yields the neutral value 0, a deliberate
// cold-start policy.
func (e *Extractor) Extract(ctx context.Context, ns *domain.NormalizedSignal) (*domain.FeatureVector, error) {
	names, err := Schema(ns.Source)
	if err != nil {
		return nil, err
	}

	window, err := e.history.RecentMetrics(ctx, ns.Source, ns.EntityKey, e.cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("read metric history for %s/%s: %w", ns.Source, ns.EntityKey, err)
	}

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = sanitize(e.compute(name, ns, window))
	}

	return &domain.FeatureVector{Source: ns.Source, Names: names, Values: values}, nil
}

// compute evaluates a single named feature. History-free ratios read the
// metrics map directly; windowed statistics go through zScore.
func (e *Extractor) compute(name string, ns *domain.NormalizedSignal, window []map[string]float64) float64 {
	switch name {
	case FeatRet1:
		cur, ok := ns.Metric("price")
		prev, okPrev := lastMetric(window, "price")
		if !ok || !okPrev || prev == 0 {
			return 0
		}
		return (cur - prev) / prev

	case FeatPriceZ:
		return e.zScore(ns, window, "price")

	case FeatVolZ:
		return e.zScore(ns, window, "volume")

	case FeatRetVol:
		return returnVolatility(seriesOf(window, "price"))

	case FeatCallPutVolRatio:
		calls, _ := ns.Metric("call_volume")
		puts, _ := ns.Metric("put_volume")
		return calls / math.Max(puts, 1)

	case FeatCallPutOIRatio:
		calls, _ := ns.Metric("call_oi")
		puts, _ := ns.Metric("put_oi")
		return calls / math.Max(puts, 1)

	case FeatOptVolZ:
		cur := metricOr(ns, "call_volume", 0) + metricOr(ns, "put_volume", 0)
		series := make([]float64, 0, len(window))
		for _, m := range window {
			c, okC := m["call_volume"]
			p, okP := m["put_volume"]
			if okC || okP {
				series = append(series, c+p)
			}
		}
		return e.zScoreValue(cur, series)

	case FeatOddsDelta:
		if d, ok := ns.Metric("odds_delta"); ok {
			return d
		}
		cur, ok := ns.Metric("odds")
		prev, okPrev := lastMetric(window, "odds")
		if !ok || !okPrev {
			return 0
		}
		return cur - prev

	case FeatOddsZ:
		return e.zScore(ns, window, "odds")

	case FeatTradeValueLog:
		return math.Log1p(math.Max(metricOr(ns, "trade_value", 0), 0))

	case FeatTradeValueZ:
		return e.zScore(ns, window, "trade_value")

	case FeatNotionalLog:
		return math.Log1p(math.Max(notionalOf(ns), 0))
	}

	return 0
}

// zScore computes the trailing z-score of the signal's metric against the
// window, neutral 0 when the metric is absent or history is too short.
func (e *Extractor) zScore(ns *domain.NormalizedSignal, window []map[string]float64, metric string) float64 {
	cur, ok := ns.Metric(metric)
	if !ok {
		return 0
	}
	return e.zScoreValue(cur, seriesOf(window, metric))
}

func (e *Extractor) zScoreValue(cur float64, series []float64) float64 {
	if len(series) < e.cfg.MinHistory {
		return 0
	}
	mu, sd := meanStddev(series)
	if sd == 0 {
		sd = 1e-9
	}
	return clamp((cur-mu)/sd, e.cfg.Clamp)
}

// notionalOf resolves the event's monetary size: explicit notional, then the
// disclosure trade value, else 0.
func notionalOf(ns *domain.NormalizedSignal) float64 {
	if v, ok := ns.Metric("notional"); ok {
		return v
	}
	if v, ok := ns.Metric("trade_value"); ok {
		return v
	}
	return 0
}

// returnVolatility is the population stddev of step returns over the window.
func returnVolatility(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	_, sd := meanStddev(returns)
	return sd
}

func seriesOf(window []map[string]float64, metric string) []float64 {
	out := make([]float64, 0, len(window))
	for _, m := range window {
		if v, ok := m[metric]; ok {
			out = append(out, v)
		}
	}
	return out
}

func lastMetric(window []map[string]float64, metric string) (float64, bool) {
	for i := len(window) - 1; i >= 0; i-- {
		if v, ok := window[i][metric]; ok {
			return v, true
		}
	}
	return 0, false
}

func metricOr(ns *domain.NormalizedSignal, name string, fallback float64) float64 {
	if v, ok := ns.Metric(name); ok {
		return v
	}
	return fallback
}

func meanStddev(series []float64) (float64, float64) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mu := sum / float64(len(series))

	var sq float64
	for _, v := range series {
		d := v - mu
		sq += d * d
	}
	return mu, math.Sqrt(sq / float64(len(series)))
}

func clamp(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

// sanitize replaces non-finite values with the neutral 0. The extractor
// contract forbids NaN/Inf reaching the model.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
