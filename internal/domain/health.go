package domain

import "time"

// ModelHealth describes the live anomaly model, exposed to the admin API.
type ModelHealth struct {
	Fitted      bool       `json:"fitted"`
	SampleCount int        `json:"sample_count"`
	LastFitAt   *time.Time `json:"last_fit_at,omitempty"`
}
