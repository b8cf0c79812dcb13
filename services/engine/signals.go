package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalParams holds the lookback windows for the breakout systems
type SignalParams struct {
	ShortPeriod int `json:"short_period" yaml:"short_period"` // System 1 breakout, 20 by default
	LongPeriod  int `json:"long_period" yaml:"long_period"`   // System 2 breakout, 55 by default
	ExitPeriod  int `json:"exit_period" yaml:"exit_period"`   // exit channel, 10 by default
	ATRPeriod   int `json:"atr_period" yaml:"atr_period"`     // N window, 20 by default
}

func (p SignalParams) withDefaults() SignalParams {
	if p.ShortPeriod <= 0 {
		p.ShortPeriod = 20
	}
	if p.LongPeriod <= 0 {
		p.LongPeriod = 55
	}
	if p.ExitPeriod <= 0 {
		p.ExitPeriod = 10
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 20
	}
	return p
}

// SignalRow is the per-bar output of the signal engine. Rolling values are
// null until their window is full; boolean signals derived from a null value
// are false.
type SignalRow struct {
	Date          time.Time           `json:"date"`
	Close         decimal.Decimal     `json:"close"`
	N             decimal.NullDecimal `json:"n"`
	HighShort     decimal.NullDecimal `json:"high_short"`
	LowShort      decimal.NullDecimal `json:"low_short"`
	HighLong      decimal.NullDecimal `json:"high_long"`
	LowLong       decimal.NullDecimal `json:"low_long"`
	LowExit       decimal.NullDecimal `json:"low_exit"`
	EntryShort    bool                `json:"entry_short"`
	EntryLong     bool                `json:"entry_long"`
	ExitLong      bool                `json:"exit_long"`
	StopReference decimal.NullDecimal `json:"stop_reference"`
}

// HasN reports whether N is defined and strictly positive.
func (r SignalRow) HasN() bool {
	return r.N.Valid && r.N.Decimal.Sign() > 0
}

var two = decimal.NewFromInt(2)

// ComputeSignals derives N, channel extrema and breakout flags from an ordered
// bar series. The output has the same length and alignment as bars.
func ComputeSignals(bars []Bar, params SignalParams) []SignalRow {
	p := params.withDefaults()
	rows := make([]SignalRow, len(bars))
	if len(bars) == 0 {
		return rows
	}

	n := averageTrueRange(bars, p.ATRPeriod)
	highShort := rollingHigh(bars, p.ShortPeriod)
	lowShort := rollingLow(bars, p.ShortPeriod)
	highLong := rollingHigh(bars, p.LongPeriod)
	lowLong := rollingLow(bars, p.LongPeriod)
	lowExit := rollingLow(bars, p.ExitPeriod)

	for i, b := range bars {
		row := SignalRow{
			Date:      b.Date,
			Close:     b.Close,
			N:         n[i],
			HighShort: highShort[i],
			LowShort:  lowShort[i],
			HighLong:  highLong[i],
			LowLong:   lowLong[i],
			LowExit:   lowExit[i],
		}
		// breakout levels are taken from the previous bar so the current
		// bar never tests against its own high or low
		if i > 0 {
			row.EntryLong = crossesAbove(b.Close, highLong[i-1])
			row.EntryShort = crossesAbove(b.Close, highShort[i-1])
			row.ExitLong = crossesBelow(b.Close, lowExit[i-1])
		}
		if n[i].Valid {
			row.StopReference = decimal.NewNullDecimal(b.Close.Sub(two.Mul(n[i].Decimal)))
		}
		rows[i] = row
	}
	return rows
}

// LatestSignal returns the last row, or false for an empty slice.
func LatestSignal(rows []SignalRow) (SignalRow, bool) {
	if len(rows) == 0 {
		return SignalRow{}, false
	}
	return rows[len(rows)-1], true
}

func crossesAbove(price decimal.Decimal, level decimal.NullDecimal) bool {
	return level.Valid && price.GreaterThan(level.Decimal)
}

func crossesBelow(price decimal.Decimal, level decimal.NullDecimal) bool {
	return level.Valid && price.LessThan(level.Decimal)
}

// trueRange uses high-low alone on the first bar, which has no previous close.
func trueRange(bars []Bar) []decimal.Decimal {
	tr := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		r := b.High.Sub(b.Low)
		if i > 0 {
			pc := bars[i-1].Close
			r = maxDec(r, b.High.Sub(pc).Abs())
			r = maxDec(r, b.Low.Sub(pc).Abs())
		}
		tr[i] = r
	}
	return tr
}

// averageTrueRange is a plain rolling mean of true range, not Wilder's
// smoothed form.
func averageTrueRange(bars []Bar, period int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(bars))
	tr := trueRange(bars)
	div := decimal.NewFromInt(int64(period))
	sum := decimal.Zero
	for i := range tr {
		sum = sum.Add(tr[i])
		if i >= period {
			sum = sum.Sub(tr[i-period])
		}
		if i >= period-1 {
			out[i] = decimal.NewNullDecimal(sum.Div(div))
		}
	}
	return out
}

func rollingHigh(bars []Bar, period int) []decimal.NullDecimal {
	return rollingExtreme(bars, period, func(b Bar) decimal.Decimal { return b.High }, maxDec)
}

func rollingLow(bars []Bar, period int) []decimal.NullDecimal {
	return rollingExtreme(bars, period, func(b Bar) decimal.Decimal { return b.Low }, minDec)
}

// rollingExtreme scans the window ending at (and including) each bar.
func rollingExtreme(bars []Bar, period int, field func(Bar) decimal.Decimal, pick func(a, b decimal.Decimal) decimal.Decimal) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(bars))
	for i := period - 1; i < len(bars); i++ {
		v := field(bars[i-period+1])
		for j := i - period + 2; j <= i; j++ {
			v = pick(v, field(bars[j]))
		}
		out[i] = decimal.NewNullDecimal(v)
	}
	return out
}
