package window

import (
	"math"
	"testing"
	"time"

	"tickerwatch/internal/model"
)

func TestResample_FiveMinuteBuckets(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	// Seven 1m bars spanning two 5m buckets, with a gap at minute 3.
	var in []model.Bar
	for _, min := range []int{0, 1, 2, 4, 5, 6, 7} {
		in = append(in, model.Bar{
			Symbol:     "AAPL",
			TS:         base.Add(time.Duration(min) * time.Minute),
			Open:       100 + float64(min),
			High:       101 + float64(min),
			Low:        99 + float64(min),
			Close:      100.5 + float64(min),
			Volume:     10,
			TradeCount: 2,
			VWAP:       100 + float64(min),
		})
	}

	out := Resample(in, 5*time.Minute)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}

	first := out[0]
	if !first.TS.Equal(base) {
		t.Errorf("first bucket TS = %v, want %v", first.TS, base)
	}
	if first.Open != 100 {
		t.Errorf("open must come from the earliest bar, got %v", first.Open)
	}
	if first.Close != 104.5 {
		t.Errorf("close must come from the latest bar in the bucket, got %v", first.Close)
	}
	if first.High != 105 || first.Low != 99 {
		t.Errorf("high/low = %v/%v, want 105/99", first.High, first.Low)
	}
	if first.Volume != 40 || first.TradeCount != 8 {
		t.Errorf("volume/trades = %d/%d, want 40/8", first.Volume, first.TradeCount)
	}

	// Volume-weighted price across the bucket's bars.
	wantVWAP := (100.0 + 101 + 102 + 104) / 4
	if math.Abs(first.VWAP-wantVWAP) > 1e-9 {
		t.Errorf("vwap = %v, want %v", first.VWAP, wantVWAP)
	}

	second := out[1]
	if !second.TS.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("second bucket TS = %v", second.TS)
	}
	if second.Open != 105 || second.Close != 107.5 {
		t.Errorf("second bucket OHLC wrong: %+v", second)
	}
	if !first.TS.Before(second.TS) {
		t.Error("output must be ascending by bucket time")
	}
}

func TestResample_DegenerateInputs(t *testing.T) {
	if got := Resample(nil, 5*time.Minute); got != nil {
		t.Errorf("nil input should resample to nil, got %+v", got)
	}
	bars := []model.Bar{{Symbol: "AAPL", TS: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}}
	if got := Resample(bars, time.Second); got != nil {
		t.Errorf("sub-minute bucket is invalid, got %+v", got)
	}
}
