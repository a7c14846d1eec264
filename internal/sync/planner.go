package sync

import "time"

// Action is one unit of refresh work for a symbol.
type Action string

const (
	ActionQuote        Action = "quote"
	ActionDailyCandles Action = "daily_candles"
	ActionIndicators   Action = "indicators"
)

// Thresholds are the freshness ceilings that trigger each action.
type Thresholds struct {
	QuoteMaxAge     time.Duration
	DailyMaxAge     time.Duration
	IndicatorMaxAge time.Duration
}

// DefaultThresholds matches the watch-list polling cadence: quotes go stale
// in under a minute, daily candles once a day, indicators within two
// calculation intervals.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QuoteMaxAge:     30 * time.Second,
		DailyMaxAge:     24 * time.Hour,
		IndicatorMaxAge: 2 * time.Minute,
	}
}

// staleness is what the planner sees of a symbol's stored data.
type staleness struct {
	quoteStale     bool
	dailyStale     bool
	indicatorStale bool
}

// plan produces the ordered action list for one symbol. Quote first, then
// daily candles, then indicators; fresh data produces no action.
func plan(st staleness) []Action {
	var actions []Action
	if st.quoteStale {
		actions = append(actions, ActionQuote)
	}
	if st.dailyStale {
		actions = append(actions, ActionDailyCandles)
	}
	if st.indicatorStale {
		actions = append(actions, ActionIndicators)
	}
	return actions
}
