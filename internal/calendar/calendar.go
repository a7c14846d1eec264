// Package calendar answers the session questions the indicator engine and
// sync orchestrator ask: is this a trading day, is the market open, and are
// we inside the opening-range window. Holiday and session logic comes from
// scmhub/calendar (ISO 10383 MIC codes); the window math is local.
package calendar

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// ORBWindow is how long after the session open the opening-range window
// stays active: the first five minutes of the session.
const ORBWindow = 5 * time.Minute

// Trading wraps one exchange calendar.
type Trading struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool

	openHour   int
	openMinute int
}

// New returns the calendar for the given MIC ("xnys" for NYSE). An unknown
// MIC falls back to a plain Mon-Fri 09:30-16:00 New York schedule.
func New(mic string) *Trading {
	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != "xnys" {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		log.Printf("[calendar] no calendar for MIC %q, using Mon-Fri fallback", mic)
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Trading{fallback: true, loc: loc, openHour: 9, openMinute: 30}
	}
	return &Trading{cal: cal, loc: cal.Loc, openHour: 9, openMinute: 30}
}

// IsTradingDay reports whether date is a business day on this exchange.
func (t *Trading) IsTradingDay(date time.Time) bool {
	date = date.In(t.loc)
	if t.fallback {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return t.cal.IsBusinessDay(date)
}

// IsMarketOpen reports whether the market is trading at instant ts.
func (t *Trading) IsMarketOpen(ts time.Time) bool {
	ts = ts.In(t.loc)
	if t.fallback {
		if !t.IsTradingDay(ts) {
			return false
		}
		h, m := ts.Hour(), ts.Minute()
		return (h > t.openHour || (h == t.openHour && m >= t.openMinute)) && h < 16
	}
	return t.cal.IsOpen(ts)
}

// SessionOpen returns the session open instant for ts's trading date.
func (t *Trading) SessionOpen(ts time.Time) time.Time {
	ts = ts.In(t.loc)
	return time.Date(ts.Year(), ts.Month(), ts.Day(), t.openHour, t.openMinute, 0, 0, t.loc)
}

// ORBWindowActive reports whether ts falls inside the opening-range window:
// a trading day, at or after the session open, and before open+ORBWindow.
func (t *Trading) ORBWindowActive(ts time.Time) bool {
	if !t.IsTradingDay(ts) {
		return false
	}
	open := t.SessionOpen(ts)
	ts = ts.In(t.loc)
	return !ts.Before(open) && ts.Before(open.Add(ORBWindow))
}
