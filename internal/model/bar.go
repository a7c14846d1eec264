package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLCV aggregate for a single symbol and minute bucket.
// It is mutated in place by every tick of its minute and becomes immutable
// once the minute boundary has elapsed.
type Bar struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"` // bucket start (UTC, minute-aligned)
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int       `json:"trade_count"`
	VWAP       float64   `json:"vwap"`

	// pvSum accumulates price*volume for the running VWAP.
	pvSum float64
}

// NewBar starts a bar from the first tick of a minute bucket.
func NewBar(t Tick) *Bar {
	b := &Bar{
		Symbol:     t.Symbol,
		TS:         t.MinuteBucket(),
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Volume,
		TradeCount: 1,
	}
	b.pvSum = t.Price * float64(t.Volume)
	if b.Volume > 0 {
		b.VWAP = b.pvSum / float64(b.Volume)
	} else {
		b.VWAP = t.Price
	}
	return b
}

// Apply merges a subsequent tick of the same minute bucket into the bar.
func (b *Bar) Apply(t Tick) {
	if t.Price > b.High {
		b.High = t.Price
	}
	if t.Price < b.Low {
		b.Low = t.Price
	}
	b.Close = t.Price
	b.Volume += t.Volume
	b.TradeCount++
	b.pvSum += t.Price * float64(t.Volume)
	if b.Volume > 0 {
		b.VWAP = b.pvSum / float64(b.Volume)
	}
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	j, _ := json.Marshal(b)
	return j
}

// DailyCandle is one OHLCV aggregate per symbol per trading day, used for
// moving averages and ADR% normalization.
type DailyCandle struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"` // trading day (UTC midnight)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}
