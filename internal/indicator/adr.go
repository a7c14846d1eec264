package indicator

import "tickerwatch/internal/model"

// defaultADRDays is the lookback for the Average Daily Range percentage.
const defaultADRDays = 20

// ADRPercent computes the Average Daily Range percentage over the most
// recent `days` candles: mean of (high/low - 1) * 100. Returns 0 when no
// usable candles exist; callers treat a non-positive ADR% as "missing" and
// must not divide by it.
func ADRPercent(candles []model.DailyCandle, days int) float64 {
	if days <= 0 {
		days = defaultADRDays
	}
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}

	sum := 0.0
	n := 0
	for _, c := range candles {
		if c.Low <= 0 || c.High < c.Low {
			continue
		}
		sum += (c.High/c.Low - 1) * 100
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
