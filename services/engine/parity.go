package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Golden parity suite: reference scenarios every build must reproduce exactly

type ParityTestCase struct {
	Name string
	Run  func() error
}

var GoldenCases = []ParityTestCase{
	{Name: "sizing_crude_example", Run: paritySizing},
	{Name: "stop_precedes_exit", Run: parityStopPrecedence},
}

func RunParitySuite() []string {
	var failures []string
	for _, tc := range GoldenCases {
		if err := tc.Run(); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", tc.Name, err))
		}
	}
	return failures
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// N=2.37, entry 63.79, risk 20,000, multiplier 1,000.
func paritySizing() error {
	sz, err := NewSizer(dec("1000000"), dec("2")).Size(SideLong, dec("63.79"), dec("2.37"), dec("1000"), 4)
	if err != nil {
		return err
	}
	if sz.Units != 8 {
		return fmt.Errorf("units = %d, want 8", sz.Units)
	}
	if !sz.StopPrice.Equal(dec("59.05")) {
		return fmt.Errorf("stop = %s, want 59.05", sz.StopPrice)
	}
	if len(sz.Ladder) == 0 || !sz.Ladder[0].Equal(dec("66.16")) {
		return fmt.Errorf("first trigger = %v, want 66.16", sz.Ladder)
	}
	return nil
}

// A day that breaches the stop while the exit channel also fires must close
// at the stop, without pyramiding.
func parityStopPrecedence() error {
	lc := NewLifecycle(NewSizer(dec("1000000"), dec("2")), 4, SystemLong, nil, nil)
	d0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entry := DayInput{
		Instrument: "CL",
		Index:      60,
		Bar:        Bar{Date: d0, Open: dec("63"), High: dec("64"), Low: dec("62.5"), Close: dec("63.79")},
		Signal:     SignalRow{Date: d0, Close: dec("63.79"), N: decimal.NewNullDecimal(dec("2.37")), EntryLong: true},
		Multiplier: dec("1000"),
	}
	if t := lc.Step(entry); t != nil {
		return fmt.Errorf("unexpected close on entry day")
	}
	if _, ok := lc.OpenID("CL"); !ok {
		return fmt.Errorf("no position opened")
	}

	d1 := d0.AddDate(0, 0, 3)
	breach := DayInput{
		Instrument: "CL",
		Index:      61,
		Bar:        Bar{Date: d1, Open: dec("64"), High: dec("70"), Low: dec("58.90"), Close: dec("67")},
		Signal:     SignalRow{Date: d1, Close: dec("67"), N: decimal.NewNullDecimal(dec("2.37")), ExitLong: true},
		Multiplier: dec("1000"),
	}
	t := lc.Step(breach)
	if t == nil {
		return fmt.Errorf("position not closed")
	}
	if t.ExitReason != ExitStopHit || !t.ExitPrice.Equal(dec("59.05")) {
		return fmt.Errorf("closed %s at %s, want StopHit at 59.05", t.ExitReason, t.ExitPrice)
	}
	if t.Pyramids != 1 || t.Units != 8 {
		return fmt.Errorf("pyramided to %d levels, %d units", t.Pyramids, t.Units)
	}
	return nil
}
