package util

import (
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Gap is a stretch of missing bars between two consecutive observed bars.
type Gap struct {
	After   time.Time // timestamp of the last bar before the gap
	Before  time.Time // timestamp of the first bar after the gap
	Missing int       // number of expected bars absent
}

// TradingCalendar provides bar-boundary awareness for a continuously traded
// market at a fixed timeframe.
type TradingCalendar struct {
	timeframe domain.Timeframe
}

// NewTradingCalendar creates a TradingCalendar for the given timeframe.
func NewTradingCalendar(tf domain.Timeframe) *TradingCalendar {
	return &TradingCalendar{
		timeframe: tf,
	}
}

// align truncates t to the start of the bar that contains it.
func (tc *TradingCalendar) align(t time.Time) time.Time {
	d := tc.timeframe.Duration()
	if d <= 0 {
		return t
	}
	return t.UTC().Truncate(d)
}

// ExpectedBars returns how many bars open in [start, end).
func (tc *TradingCalendar) ExpectedBars(start, end time.Time) int {
	d := tc.timeframe.Duration()
	if d <= 0 || !end.After(start) {
		return 0
	}
	first := tc.align(start)
	if first.Before(start) {
		first = first.Add(d)
	}
	if !end.After(first) {
		return 0
	}
	return int((end.Sub(first)-1)/d) + 1
}

// Gaps returns every place in bars where at least one whole interval is
// missing between consecutive timestamps. Steps are rounded to the nearest
// interval, so a bar that drifts by less than half an interval (e.g. daily
// bars crossing a DST change) is not a gap. bars must be sorted ascending.
func (tc *TradingCalendar) Gaps(bars []domain.Bar) []Gap {
	d := tc.timeframe.Duration()
	if d <= 0 || len(bars) < 2 {
		return nil
	}

	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Timestamp, bars[i].Timestamp
		missing := int((cur.Sub(prev)+d/2)/d) - 1
		if missing > 0 {
			gaps = append(gaps, Gap{
				After:   prev,
				Before:  cur,
				Missing: missing,
			})
		}
	}
	return gaps
}
