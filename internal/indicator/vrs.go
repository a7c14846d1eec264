package indicator

import (
	"time"

	"tickerwatch/internal/model"
)

// VRS horizons in minutes.
var vrsHorizons = []int{1, 5, 15}

// barCloseChangePercent compares the latest bar's close to the close of the
// bar `horizon` minutes earlier. Requires at least horizon+1 bars; ok is
// false otherwise. Returns the change in percent.
func barCloseChangePercent(bars []model.Bar, horizon int) (pct float64, used int, ok bool) {
	need := horizon + 1
	if len(bars) < need {
		return 0, 0, false
	}
	latest := bars[len(bars)-1]
	prior := bars[len(bars)-1-horizon]
	if prior.Close <= 0 {
		return 0, 0, false
	}
	return (latest.Close - prior.Close) / prior.Close * 100, need, true
}

// computeVRS derives the bounded, benchmark-relative oscillator for one
// horizon. Both percent changes are normalized by their side's ADR% so a
// volatile mover and a quiet mover are comparable; a move of one full ADR
// against a flat benchmark scores 10 points off center.
//
// Returns nil when the subject lacks horizon+1 bars, when either ADR% is
// non-positive or missing, or when the benchmark itself lacks bars — the
// caller preserves the previously published value in those cases.
func computeVRS(
	symbol, benchmark string,
	stockBars, benchBars []model.Bar,
	stockADR, benchADR float64,
	horizon int,
	now time.Time,
) *model.VRSResult {
	if stockADR <= 0 || benchADR <= 0 {
		return nil
	}

	stockPct, used, ok := barCloseChangePercent(stockBars, horizon)
	if !ok {
		return nil
	}

	// Self-referential guard: the benchmark measured against itself is flat.
	benchPct := 0.0
	if symbol != benchmark {
		benchPct, _, ok = barCloseChangePercent(benchBars, horizon)
		if !ok {
			return nil
		}
	}

	stockNorm := stockPct / stockADR
	benchNorm := benchPct / benchADR

	value := 50 + 10*(stockNorm-benchNorm)
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	return &model.VRSResult{
		Value:           value,
		StockChangePct:  stockPct,
		BenchChangePct:  benchPct,
		HorizonMinutes:  horizon,
		ComputedAt:      now,
		BarsUsed:        used,
		BenchmarkSymbol: benchmark,
	}
}
