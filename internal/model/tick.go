package model

import (
	"math"
	"time"
)

// Tick represents a single trade event from the upstream provider.
// Prices are decimal dollars as delivered by the provider feed.
type Tick struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"` // trade timestamp (UTC)
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
	Size       int64     `json:"size"` // last trade size
	Venue      string    `json:"venue,omitempty"`
	Conditions []string  `json:"conditions,omitempty"`
}

// Valid reports whether the tick is safe to aggregate and store.
// Non-finite or non-positive prices are rejected at the ingestion boundary.
func (t *Tick) Valid() bool {
	if t.Symbol == "" {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return false
	}
	return t.Price > 0
}

// MinuteBucket returns the minute-aligned bucket start for this tick.
func (t *Tick) MinuteBucket() time.Time {
	return t.TS.Truncate(time.Minute)
}
