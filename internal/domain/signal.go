package domain

import "time"

// NormalizedSignal is the canonical representation of one market event,
// independent of the source it was fetched from. It is immutable after
// construction; repeated observations of the same entity are expected and
// form the history against which anomalies are judged.
type NormalizedSignal struct {
	Source        Source
	EntityKey     string             // ticker, market id, or filer id
	ObservedAt    time.Time          // event time, not ingestion time
	Metrics       map[string]float64 // source-specific; absence of a key is meaningful
	RawPayloadRef string             // opaque reference to the adapter output, for audit
}

// Metric returns the named metric and whether it was present in the event.
// Absent metrics must not be read as zero.
func (n *NormalizedSignal) Metric(name string) (float64, bool) {
	v, ok := n.Metrics[name]
	return v, ok
}

// Confidence is the tier assigned to a heuristic label.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Signal is one persisted, scored event.
// Corresponds to the signals table in PostgreSQL. Created exactly once by the
// scoring engine after both scorers complete; never mutated thereafter.
type Signal struct {
	ID              string             `json:"id"` // PRIMARY KEY, UUID
	Source          Source             `json:"source"`
	EntityKey       string             `json:"entity_key"`
	ObservedAt      time.Time          `json:"observed_at"`
	Metrics         map[string]float64 `json:"metrics"`               // normalized input metrics (JSONB)
	Features        map[string]float64 `json:"features"`              // extracted feature map (JSONB), reused for refit
	AnomalyScore    float64            `json:"anomaly_score"`         // [0,1], higher = more anomalous
	Untrained       bool               `json:"untrained"`             // score produced by an unfitted model
	HeuristicLabel  *string            `json:"heuristic_label"`       // nil when no rule matched
	LabelConfidence *Confidence        `json:"label_confidence"`      // nil when no rule matched
	RawPayloadRef   string             `json:"raw_payload_ref"`
	CreatedAt       time.Time          `json:"created_at"`
}

// AlertReason explains which trigger created an alert.
type AlertReason string

const (
	ReasonThresholdExceeded   AlertReason = "threshold_exceeded"
	ReasonHighPriorityPattern AlertReason = "high_priority_pattern"
)

// Severity grades an alert for downstream notification.
type Severity string

const (
	SeverityWarn Severity = "warn"
	SeverityHigh Severity = "high"
)

// Alert flags a Signal that met the threshold-or-high-priority predicate.
// Zero or one per Signal, created in the same transaction as its Signal.
type Alert struct {
	ID        string      `json:"id"`        // PRIMARY KEY, UUID
	SignalID  string      `json:"signal_id"` // originating signal
	EntityKey string      `json:"entity_key"`
	Reason    AlertReason `json:"reason"`
	Severity  Severity    `json:"severity"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"created_at"`
}
