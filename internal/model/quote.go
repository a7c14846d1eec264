package model

import (
	"encoding/json"
	"time"
)

// Quote is the latest polled quote for a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	TS            time.Time `json:"ts"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ChangePercent returns the percent move from the previous close,
// or 0 when the previous close is unknown.
func (q *Quote) ChangePercent() float64 {
	if q.PreviousClose <= 0 {
		return 0
	}
	return (q.Price - q.PreviousClose) / q.PreviousClose * 100
}

// JSON returns the JSON-encoded quote.
func (q *Quote) JSON() []byte {
	j, _ := json.Marshal(q)
	return j
}
