package window

import (
	"sort"
	"time"

	"tickerwatch/internal/model"
)

// Resample aggregates minute bars into coarser fixed buckets (e.g. 5m).
// Input order does not matter; output is ascending by bucket start. Open is
// the earliest constituent's open, close the latest's close, high/low the
// extremes, volume and trade count sums, VWAP the volume-weighted mean of
// the constituents' VWAPs.
func Resample(bars []model.Bar, bucket time.Duration) []model.Bar {
	if len(bars) == 0 || bucket < time.Minute {
		return nil
	}

	type acc struct {
		bar     model.Bar
		firstTS time.Time
		lastTS  time.Time
		pvSum   float64
	}
	groups := make(map[int64]*acc, len(bars))

	for i := range bars {
		b := bars[i]
		start := b.TS.Truncate(bucket)
		key := start.Unix()

		g, ok := groups[key]
		if !ok {
			groups[key] = &acc{
				bar: model.Bar{
					Symbol:     b.Symbol,
					TS:         start.UTC(),
					Open:       b.Open,
					High:       b.High,
					Low:        b.Low,
					Close:      b.Close,
					Volume:     b.Volume,
					TradeCount: b.TradeCount,
				},
				firstTS: b.TS,
				lastTS:  b.TS,
				pvSum:   b.VWAP * float64(b.Volume),
			}
			continue
		}

		if b.TS.Before(g.firstTS) {
			g.firstTS = b.TS
			g.bar.Open = b.Open
		}
		if b.TS.After(g.lastTS) {
			g.lastTS = b.TS
			g.bar.Close = b.Close
		}
		if b.High > g.bar.High {
			g.bar.High = b.High
		}
		if b.Low < g.bar.Low {
			g.bar.Low = b.Low
		}
		g.bar.Volume += b.Volume
		g.bar.TradeCount += b.TradeCount
		g.pvSum += b.VWAP * float64(b.Volume)
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]model.Bar, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		if g.bar.Volume > 0 {
			g.bar.VWAP = g.pvSum / float64(g.bar.Volume)
		}
		out = append(out, g.bar)
	}
	return out
}
