package indicator

import (
	"time"

	"tickerwatch/internal/model"
)

// Opening-range breakout criteria. The price shape must open in one extreme
// quintile of the range and close in the other with a dominant body; the
// tier is then graded purely on relative volume.
const (
	orbOpenPosMax   = 0.20
	orbClosePosMin  = 0.80
	orbBodyRatioMin = 0.55

	orbMinSample = 10 // minimum historical sessions for relative volume

	orbRelVolTier2 = 1.50
	orbRelVolTier1 = 0.25
)

// RangeBar is the OHLCV summary of an opening-range window. For the
// real-time path it is built from raw ticks; the authoritative evaluation
// uses the session's first five-minute bar.
type RangeBar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// SummarizeTicks builds a RangeBar from a tick sequence:
// open = first price, high/low = extrema, close = latest, volume = sum.
// ok is false for an empty sequence.
func SummarizeTicks(ticks []model.Tick) (RangeBar, bool) {
	if len(ticks) == 0 {
		return RangeBar{}, false
	}
	rb := RangeBar{
		Open:  ticks[0].Price,
		High:  ticks[0].Price,
		Low:   ticks[0].Price,
		Close: ticks[len(ticks)-1].Price,
	}
	for _, t := range ticks {
		if t.Price > rb.High {
			rb.High = t.Price
		}
		if t.Price < rb.Low {
			rb.Low = t.Price
		}
		rb.Volume += t.Volume
	}
	return rb, true
}

// EvaluateORB applies the tiered breakout criteria to an opening-range bar
// against a historical sample of prior sessions' opening-range volumes.
//
// Tier 0 when the range is degenerate, the price shape matches neither the
// bullish nor the mirrored bearish criteria, or the historical sample is too
// small. Otherwise tier 1 or 2 by relative-volume threshold. Bearish takes
// display priority for determinism; the quantile constraints make the two
// shapes mutually exclusive in practice.
func EvaluateORB(rb RangeBar, histVolumes []int64, now time.Time) *model.ORBResult {
	res := &model.ORBResult{
		Open:       rb.Open,
		High:       rb.High,
		Low:        rb.Low,
		Close:      rb.Close,
		Volume:     rb.Volume,
		Range:      rb.High - rb.Low,
		Tier:       model.ORBTierNone,
		ComputedAt: now,
	}
	if rb.Open > 0 {
		res.RangePct = res.Range / rb.Open * 100
	}

	if res.Range <= 0 {
		return res
	}

	openPos := (rb.Open - rb.Low) / res.Range
	closePos := (rb.Close - rb.Low) / res.Range
	body := rb.Close - rb.Open
	if body < 0 {
		body = -body
	}
	bodyRatio := body / res.Range

	bullish := openPos <= orbOpenPosMax && closePos >= orbClosePosMin &&
		bodyRatio >= orbBodyRatioMin && rb.Close > rb.Open
	bearish := openPos >= orbClosePosMin && closePos <= orbOpenPosMax &&
		bodyRatio >= orbBodyRatioMin && rb.Close < rb.Open

	if !bullish && !bearish {
		return res
	}
	if len(histVolumes) < orbMinSample {
		return res
	}

	var sum int64
	for _, v := range histVolumes {
		sum += v
	}
	mean := float64(sum) / float64(len(histVolumes))
	if mean <= 0 {
		return res
	}

	res.RelVolume = float64(rb.Volume) / mean
	res.Bearish = bearish // bearish wins display priority

	switch {
	case res.RelVolume >= orbRelVolTier2:
		res.Tier = model.ORBTierDark
	case res.RelVolume >= orbRelVolTier1:
		res.Tier = model.ORBTierLight
	}
	return res
}
