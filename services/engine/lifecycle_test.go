package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

// day builds a lifecycle input with the given N; a blank n means undefined.
func day(i int, open, high, low, close, n string) DayInput {
	d := testStart.AddDate(0, 0, i)
	row := SignalRow{Date: d, Close: dec(close)}
	if n != "" {
		row.N = decimal.NewNullDecimal(dec(n))
	}
	return DayInput{
		Instrument: "GC",
		Index:      i,
		Bar:        Bar{Date: d, Open: dec(open), High: dec(high), Low: dec(low), Close: dec(close)},
		Signal:     row,
		Multiplier: dec("1"),
	}
}

func entryDay(i int, close, n string) DayInput {
	in := day(i, close, close, close, close, n)
	in.Signal.EntryLong = true
	return in
}

// newTestLifecycle risks 1,000 per trade.
func newTestLifecycle() (*Lifecycle, *EventLog) {
	log := &EventLog{}
	return NewLifecycle(NewSizer(dec("100000"), dec("1")), 4, SystemLong, log, nil), log
}

func openPosition(t *testing.T, lc *Lifecycle) *Position {
	t.Helper()
	if tr := lc.Step(entryDay(0, "100", "2")); tr != nil {
		t.Fatal("unexpected close on entry day")
	}
	id, ok := lc.OpenID("GC")
	if !ok {
		t.Fatal("expected an open position")
	}
	p, _ := lc.Get(id)
	return p
}

func TestEntryOpensSizedPosition(t *testing.T) {
	lc, log := newTestLifecycle()
	p := openPosition(t, lc)
	if p.TotalUnits != 500 || p.PyramidCount != 1 {
		t.Fatalf("units=%d pyramids=%d", p.TotalUnits, p.PyramidCount)
	}
	if !p.StopPrice.Equal(dec("96")) {
		t.Fatalf("stop = %s", p.StopPrice)
	}
	if log.Count(EventEntry) != 1 {
		t.Fatal("entry event not logged")
	}
}

func TestStopTakesPrecedenceOverExitAndPyramid(t *testing.T) {
	lc, _ := newTestLifecycle()
	openPosition(t, lc)

	in := day(1, "100", "110", "95", "105", "2")
	in.Signal.ExitLong = true
	tr := lc.Step(in)
	if tr == nil {
		t.Fatal("expected a close")
	}
	if tr.ExitReason != ExitStopHit || !tr.ExitPrice.Equal(dec("96")) {
		t.Fatalf("got %s at %s", tr.ExitReason, tr.ExitPrice)
	}
	if tr.Units != 500 {
		t.Fatalf("pyramid must not run on a stop day, units = %d", tr.Units)
	}
	if !tr.PnL.Equal(dec("-2000")) {
		t.Fatalf("pnl = %s", tr.PnL)
	}
}

func TestExitSignalClosesAtClose(t *testing.T) {
	lc, _ := newTestLifecycle()
	openPosition(t, lc)

	in := day(1, "99", "99.5", "97", "98", "2")
	in.Signal.ExitLong = true
	tr := lc.Step(in)
	if tr == nil || tr.ExitReason != ExitSignal || !tr.ExitPrice.Equal(dec("98")) {
		t.Fatalf("trade = %+v", tr)
	}
	if tr.DaysHeld != 1 {
		t.Fatalf("days held = %d", tr.DaysHeld)
	}
}

func TestPyramidAddsOneLevelPerDayAndRatchets(t *testing.T) {
	lc, log := newTestLifecycle()
	p := openPosition(t, lc)

	// high crosses 102, 104 and 106 but only the first level fills today
	lc.Step(day(1, "101", "107", "100", "106", "2.5"))
	if p.PyramidCount != 2 || p.TotalUnits != 900 {
		t.Fatalf("pyramids=%d units=%d", p.PyramidCount, p.TotalUnits)
	}
	// 1000 / 2.5 = 400 units at 102
	wantEntry := dec("90800").Div(dec("900"))
	if !p.EntryPrice.Equal(wantEntry) {
		t.Fatalf("entry = %s, want %s", p.EntryPrice, wantEntry)
	}
	if !p.StopPrice.Equal(dec("97")) {
		t.Fatalf("stop = %s, want 102-2*2.5", p.StopPrice)
	}

	// a wide N would put the candidate stop lower; the stop holds
	lc.Step(day(2, "106", "108", "104", "107", "10"))
	if p.PyramidCount != 3 {
		t.Fatalf("pyramids=%d", p.PyramidCount)
	}
	if !p.StopPrice.Equal(dec("97")) {
		t.Fatalf("stop loosened to %s", p.StopPrice)
	}
	if log.Count(EventPyramid) != 2 {
		t.Fatalf("pyramid events = %d", log.Count(EventPyramid))
	}
}

func TestPyramidStopsAtMaxUnits(t *testing.T) {
	lc, _ := newTestLifecycle()
	p := openPosition(t, lc)
	for i := 1; i <= 6; i++ {
		lc.Step(day(i, "120", "130", "119", "125", "2"))
	}
	if p.PyramidCount != 4 {
		t.Fatalf("pyramids = %d, want 4", p.PyramidCount)
	}
	if _, ok := p.NextTrigger(); ok {
		t.Fatal("no trigger should remain")
	}
}

func TestStopNeverDecreases(t *testing.T) {
	lc, _ := newTestLifecycle()
	p := openPosition(t, lc)
	prev := p.StopPrice
	ns := []string{"2", "5", "1", "8", "0.5", "3"}
	for i, n := range ns {
		px := 102 + 2*i
		s := decimal.NewFromInt(int64(px))
		lc.Step(day(i+1, s.String(), s.Add(dec("1")).String(), s.Sub(dec("0.5")).String(), s.String(), n))
		if !p.IsOpen() {
			break
		}
		if p.StopPrice.LessThan(prev) {
			t.Fatalf("stop moved down from %s to %s", prev, p.StopPrice)
		}
		prev = p.StopPrice
	}
}

func TestOneOpenPositionPerInstrument(t *testing.T) {
	lc, _ := newTestLifecycle()
	first := openPosition(t, lc)

	lc.Step(entryDay(1, "100.5", "2"))
	if len(lc.OpenPositions()) != 1 {
		t.Fatalf("open positions = %d", len(lc.OpenPositions()))
	}
	if id, _ := lc.OpenID("GC"); id != first.ID {
		t.Fatal("a second entry replaced the open position")
	}
}

func TestReentryAfterSameDayStopGetsNewIdentity(t *testing.T) {
	lc, _ := newTestLifecycle()
	first := openPosition(t, lc)

	in := day(1, "97", "101", "95", "100", "2")
	in.Signal.EntryLong = true
	tr := lc.Step(in)
	if tr == nil || tr.ExitReason != ExitStopHit {
		t.Fatalf("trade = %+v", tr)
	}
	id, ok := lc.OpenID("GC")
	if !ok {
		t.Fatal("expected re-entry after the stop")
	}
	if id == first.ID {
		t.Fatal("closed position identity reused")
	}
	if first.IsOpen() {
		t.Fatal("first position should be closed")
	}
}

func TestEntrySkippedWithoutN(t *testing.T) {
	lc, log := newTestLifecycle()
	lc.Step(entryDay(0, "100", ""))
	if len(lc.OpenPositions()) != 0 {
		t.Fatal("entry without N must be skipped")
	}
	if log.Count(EventSizingSkip) != 1 {
		t.Fatalf("sizing skips = %d", log.Count(EventSizingSkip))
	}
}

func TestNoEntryOnLastBar(t *testing.T) {
	lc, log := newTestLifecycle()
	in := entryDay(0, "100", "2")
	in.LastBar = true
	if tr := lc.Step(in); tr != nil {
		t.Fatal("unexpected trade")
	}
	if len(lc.OpenPositions()) != 0 || log.Count(EventEntry) != 0 {
		t.Fatal("position opened on the last bar")
	}
}

func TestForceCloseAtEndOfData(t *testing.T) {
	lc, log := newTestLifecycle()
	openPosition(t, lc)
	bar := Bar{Date: testStart.AddDate(0, 0, 5), Open: dec("101"), High: dec("102"), Low: dec("100"), Close: dec("101.5")}
	tr, ok := lc.ForceClose("GC", 5, bar)
	if !ok || tr.ExitReason != ExitEndOfData || !tr.ExitPrice.Equal(dec("101.5")) {
		t.Fatalf("trade = %+v", tr)
	}
	if !tr.PnL.Equal(dec("750")) {
		t.Fatalf("pnl = %s", tr.PnL)
	}
	if _, ok := lc.ForceClose("GC", 6, bar); ok {
		t.Fatal("nothing left to close")
	}
	if log.Count(EventEndOfData) != 1 {
		t.Fatal("end of data event missing")
	}
}

func TestPositionIDsAreDeterministic(t *testing.T) {
	a, _ := newTestLifecycle()
	b, _ := newTestLifecycle()
	pa := openPosition(t, a)
	pb := openPosition(t, b)
	if pa.ID != pb.ID {
		t.Fatalf("ids differ: %s vs %s", pa.ID, pb.ID)
	}
}
