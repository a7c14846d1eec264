package model

import (
	"encoding/json"
	"time"
)

// Known strategy result names. The store and cache key off these.
const (
	StrategyRVol = "rvol"
	StrategyORB  = "orb5m"
	StrategyVRS  = "vrs"
)

// StrategyResult is a named, timestamped, symbol-scoped payload persisted
// to the tiered store with its own retention.
type StrategyResult struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	TS          time.Time       `json:"ts"`
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"last_updated"`
}

// NewStrategyResult marshals payload into a StrategyResult stamped now.
func NewStrategyResult(symbol, name string, ts time.Time, payload any) (*StrategyResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &StrategyResult{
		Symbol:      symbol,
		Name:        name,
		TS:          ts,
		Data:        data,
		LastUpdated: time.Now().UTC(),
	}, nil
}

// JSON returns the JSON-encoded result.
func (r *StrategyResult) JSON() []byte {
	j, _ := json.Marshal(r)
	return j
}
