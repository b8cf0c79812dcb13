package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single daily OHLCV bar for one instrument
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Series maps an instrument to its ordered daily bars
type Series map[string][]Bar

// Instruments returns the series keys in sorted order. Every per-day pass
// over instruments uses this order so runs are reproducible.
func (s Series) Instruments() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// unionDates merges every instrument's dates into one ascending calendar.
func unionDates(s Series) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, bars := range s {
		for _, b := range bars {
			seen[Day(b.Date)] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// indexByDate maps each bar's day to its position in the slice.
func indexByDate(bars []Bar) map[time.Time]int {
	idx := make(map[time.Time]int, len(bars))
	for i, b := range bars {
		idx[Day(b.Date)] = i
	}
	return idx
}

func maxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
