package model

import (
	"encoding/json"
	"time"
)

// ORB tier values: 0 = no match, 1 = light (relative volume >= 0.25x),
// 2 = dark (relative volume >= 1.50x).
const (
	ORBTierNone  = 0
	ORBTierLight = 1
	ORBTierDark  = 2
)

// VRSResult is a benchmark-relative strength value for one horizon.
// Value is a bounded oscillator in [0, 100] centered at 50.
type VRSResult struct {
	Value           float64   `json:"value"`
	StockChangePct  float64   `json:"stock_change_pct"`
	BenchChangePct  float64   `json:"bench_change_pct"`
	HorizonMinutes  int       `json:"horizon_minutes"`
	ComputedAt      time.Time `json:"computed_at"`
	BarsUsed        int       `json:"bars_used"`
	BenchmarkSymbol string    `json:"benchmark_symbol"`
}

// ORBResult summarizes the opening-range window and its tier classification.
type ORBResult struct {
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	Range      float64   `json:"range"`
	RangePct   float64   `json:"range_pct"`
	Tier       int       `json:"tier"`
	Bearish    bool      `json:"bearish"`
	RelVolume  float64   `json:"rel_volume"`
	ComputedAt time.Time `json:"computed_at"`
}

// PriceChangeResult holds point-to-point price deltas, computed from the
// tick history independently of the bar-based VRS path.
type PriceChangeResult struct {
	Change1m   *float64  `json:"change_1m,omitempty"`
	Change5m   *float64  `json:"change_5m,omitempty"`
	Change15m  *float64  `json:"change_15m,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// Calculations groups the per-kind indicator results for one symbol.
// VRS horizons refresh independently: a calculation cycle that lacks data
// for a horizon leaves that horizon's previous value in place.
type Calculations struct {
	VRS1m        *VRSResult         `json:"vrs_1m,omitempty"`
	VRS5m        *VRSResult         `json:"vrs_5m,omitempty"`
	VRS15m       *VRSResult         `json:"vrs_15m,omitempty"`
	ORB5m        *ORBResult         `json:"orb_5m,omitempty"`
	PriceChanges *PriceChangeResult `json:"price_changes,omitempty"`
}

// IndicatorSnapshot is the full indicator state published for one symbol
// on every calculation cycle.
type IndicatorSnapshot struct {
	Symbol       string       `json:"symbol"`
	TS           time.Time    `json:"ts"`
	LatestPrice  float64      `json:"latest_price"`
	Calculations Calculations `json:"calculations"`
}

// VRS returns the result for a horizon in minutes (1, 5 or 15).
func (s *IndicatorSnapshot) VRS(horizon int) *VRSResult {
	switch horizon {
	case 1:
		return s.Calculations.VRS1m
	case 5:
		return s.Calculations.VRS5m
	case 15:
		return s.Calculations.VRS15m
	}
	return nil
}

// SetVRS stores the result for a horizon in minutes (1, 5 or 15).
func (s *IndicatorSnapshot) SetVRS(horizon int, r *VRSResult) {
	switch horizon {
	case 1:
		s.Calculations.VRS1m = r
	case 5:
		s.Calculations.VRS5m = r
	case 15:
		s.Calculations.VRS15m = r
	}
}

// JSON returns the JSON-encoded snapshot.
func (s *IndicatorSnapshot) JSON() []byte {
	j, _ := json.Marshal(s)
	return j
}

// Clone returns a deep copy so subscribers and the store never share the
// engine's mutable snapshot.
func (s *IndicatorSnapshot) Clone() *IndicatorSnapshot {
	out := *s
	if s.Calculations.VRS1m != nil {
		v := *s.Calculations.VRS1m
		out.Calculations.VRS1m = &v
	}
	if s.Calculations.VRS5m != nil {
		v := *s.Calculations.VRS5m
		out.Calculations.VRS5m = &v
	}
	if s.Calculations.VRS15m != nil {
		v := *s.Calculations.VRS15m
		out.Calculations.VRS15m = &v
	}
	if s.Calculations.ORB5m != nil {
		v := *s.Calculations.ORB5m
		out.Calculations.ORB5m = &v
	}
	if s.Calculations.PriceChanges != nil {
		v := *s.Calculations.PriceChanges
		out.Calculations.PriceChanges = &v
	}
	return &out
}
