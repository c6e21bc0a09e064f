package domain

// Source identifies the market from which an event originated.
// It drives which feature schema and heuristic rules apply.
type Source string

const (
	SourceEquityMarket          Source = "equity_market"
	SourceOptionsMarket         Source = "options_market"
	SourcePredictionMarket      Source = "prediction_market"
	SourceLegislativeDisclosure Source = "legislative_disclosure"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a known value.
func (s Source) IsValid() bool {
	switch s {
	case SourceEquityMarket, SourceOptionsMarket, SourcePredictionMarket, SourceLegislativeDisclosure:
		return true
	}
	return false
}

// AllSources lists every known source in a stable order.
func AllSources() []Source {
	return []Source{
		SourceEquityMarket,
		SourceOptionsMarket,
		SourcePredictionMarket,
		SourceLegislativeDisclosure,
	}
}
