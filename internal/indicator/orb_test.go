package indicator

import (
	"testing"
	"time"

	"tickerwatch/internal/model"
)

func histVolumes(n int, v int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEvaluateORB_Tier2Bullish(t *testing.T) {
	// openPos=0.167, closePos=0.833, bodyRatio=0.667, relVol=1.6x
	rb := RangeBar{Open: 10.0, High: 10.5, Low: 9.9, Close: 10.4, Volume: 1_600_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierDark {
		t.Fatalf("expected tier 2, got %d", res.Tier)
	}
	if res.Bearish {
		t.Error("expected bullish classification")
	}
	if res.RelVolume < 1.59 || res.RelVolume > 1.61 {
		t.Errorf("expected rel_volume=1.6, got %v", res.RelVolume)
	}
}

func TestEvaluateORB_Tier1OnLowVolume(t *testing.T) {
	rb := RangeBar{Open: 10.0, High: 10.5, Low: 9.9, Close: 10.4, Volume: 300_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierLight {
		t.Fatalf("expected tier 1 at 0.3x volume, got %d", res.Tier)
	}
}

func TestEvaluateORB_TierZeroBelowVolumeFloor(t *testing.T) {
	rb := RangeBar{Open: 10.0, High: 10.5, Low: 9.9, Close: 10.4, Volume: 100_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierNone {
		t.Fatalf("expected tier 0 below 0.25x volume, got %d", res.Tier)
	}
}

func TestEvaluateORB_BearishMirror(t *testing.T) {
	// Open near the high, close near the low, dominant red body.
	rb := RangeBar{Open: 10.4, High: 10.5, Low: 9.9, Close: 10.0, Volume: 1_600_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierDark {
		t.Fatalf("expected tier 2, got %d", res.Tier)
	}
	if !res.Bearish {
		t.Error("expected bearish classification")
	}
}

func TestEvaluateORB_InsufficientSample(t *testing.T) {
	rb := RangeBar{Open: 10.0, High: 10.5, Low: 9.9, Close: 10.4, Volume: 1_600_000}
	res := EvaluateORB(rb, histVolumes(9, 1_000_000), time.Now())

	if res.Tier != model.ORBTierNone {
		t.Fatalf("expected tier 0 with sample < 10, got %d", res.Tier)
	}
}

func TestEvaluateORB_DegenerateRange(t *testing.T) {
	rb := RangeBar{Open: 10.0, High: 10.0, Low: 10.0, Close: 10.0, Volume: 1_600_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierNone {
		t.Fatalf("expected tier 0 for zero range, got %d", res.Tier)
	}
}

func TestEvaluateORB_ShapeMiss(t *testing.T) {
	// Closes mid-range: neither bullish nor bearish criteria hold.
	rb := RangeBar{Open: 10.0, High: 10.5, Low: 9.9, Close: 10.2, Volume: 1_600_000}
	res := EvaluateORB(rb, histVolumes(10, 1_000_000), time.Now())

	if res.Tier != model.ORBTierNone {
		t.Fatalf("expected tier 0 for mid-range close, got %d", res.Tier)
	}
}

func TestSummarizeTicks(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	ticks := []model.Tick{
		{Symbol: "AAPL", TS: base, Price: 10.0, Volume: 100},
		{Symbol: "AAPL", TS: base.Add(time.Minute), Price: 10.5, Volume: 200},
		{Symbol: "AAPL", TS: base.Add(2 * time.Minute), Price: 9.9, Volume: 50},
		{Symbol: "AAPL", TS: base.Add(3 * time.Minute), Price: 10.4, Volume: 150},
	}

	rb, ok := SummarizeTicks(ticks)
	if !ok {
		t.Fatal("expected ok for non-empty ticks")
	}
	if rb.Open != 10.0 || rb.High != 10.5 || rb.Low != 9.9 || rb.Close != 10.4 {
		t.Errorf("unexpected summary: %+v", rb)
	}
	if rb.Volume != 500 {
		t.Errorf("expected volume=500, got %d", rb.Volume)
	}

	if _, ok := SummarizeTicks(nil); ok {
		t.Error("expected !ok for empty tick sequence")
	}
}
