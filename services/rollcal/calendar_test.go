package rollcal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"turtle-backtest/services/engine"
)

var monthly = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestLastTradingDay(t *testing.T) {
	if got := (Contract{2024, 3}).LastTradingDay(); !got.Equal(date(2024, 3, 29)) {
		t.Fatalf("march = %s", got)
	}
	if got := (Contract{2024, 12}).LastTradingDay(); !got.Equal(date(2024, 12, 29)) {
		t.Fatalf("december = %s", got)
	}
	// leap february
	if got := (Contract{2024, 2}).LastTradingDay(); !got.Equal(date(2024, 2, 27)) {
		t.Fatalf("february = %s", got)
	}
}

func TestCheckAndNext(t *testing.T) {
	cal := New(0, map[string]engine.InstrumentSpec{"GC": {ExpirationMonths: []int{2, 4, 6, 8, 10, 12}}}, nil)
	chk := cal.Check(date(2024, 12, 16), "GC", Contract{2024, 12})
	if !chk.ShouldRoll || chk.DaysToExpiration != 13 {
		t.Fatalf("check = %+v", chk)
	}
	if chk.Next != (Contract{2025, 2}) {
		t.Fatalf("next = %+v", chk.Next)
	}
	if cal.Check(date(2024, 11, 1), "GC", Contract{2024, 12}).ShouldRoll {
		t.Fatal("too early to roll")
	}
	// unlisted instrument uses odd months plus December
	if n := cal.Next("ZZ", Contract{2024, 9}); n != (Contract{2024, 12}) {
		t.Fatalf("default next = %+v", n)
	}
}

func TestFrontContractSkipsContractsInWindow(t *testing.T) {
	cal := New(14, map[string]engine.InstrumentSpec{"CL": {ExpirationMonths: monthly}}, nil)
	if c := cal.FrontContract("CL", date(2024, 3, 1)); c != (Contract{2024, 3}) {
		t.Fatalf("front = %+v", c)
	}
	if c := cal.FrontContract("CL", date(2024, 3, 20)); c != (Contract{2024, 4}) {
		t.Fatalf("front inside window = %+v", c)
	}
}

func dailyBars(from time.Time, days int, close string) []engine.Bar {
	var out []engine.Bar
	c := decimal.RequireFromString(close)
	for i := 0; i < days; i++ {
		d := from.AddDate(0, 0, i)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, engine.Bar{Date: d, Open: c, High: c, Low: c, Close: c})
	}
	return out
}

func TestScheduleRollsOncePerContract(t *testing.T) {
	cal := New(14, map[string]engine.InstrumentSpec{"CL": {ExpirationMonths: monthly}}, nil)
	front := dailyBars(date(2024, 1, 2), 90, "80")
	next := dailyBars(date(2024, 1, 2), 90, "81.5")

	rolls := cal.Schedule("CL", front, next)
	// Jan, Feb and Mar contracts expire inside the window
	if len(rolls) != 3 {
		t.Fatalf("rolls = %+v", rolls)
	}
	for i, r := range rolls {
		if !r.Price.Equal(decimal.RequireFromString("81.5")) {
			t.Fatalf("roll %d price = %s", i, r.Price)
		}
	}
	if rolls[0].ContractMonth != 2 || rolls[2].ContractMonth != 4 {
		t.Fatalf("months = %d, %d", rolls[0].ContractMonth, rolls[2].ContractMonth)
	}
	// 2024-01-29 expiry minus 14 days falls on Monday the 15th
	if !rolls[0].Date.Equal(date(2024, 1, 15)) {
		t.Fatalf("first roll on %s", rolls[0].Date)
	}
}

func TestScheduleDefersWithoutPrice(t *testing.T) {
	cal := New(14, map[string]engine.InstrumentSpec{"CL": {ExpirationMonths: monthly}}, nil)
	front := dailyBars(date(2024, 1, 2), 25, "80")
	next := dailyBars(date(2024, 1, 17), 5, "81")

	rolls := cal.Schedule("CL", front, next)
	if len(rolls) != 1 || !rolls[0].Date.Equal(date(2024, 1, 17)) {
		t.Fatalf("rolls = %+v", rolls)
	}
}
