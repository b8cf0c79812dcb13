package engine

import "testing"

func TestRollWithoutPositionIsNoOp(t *testing.T) {
	lc, log := newTestLifecycle()
	if _, ok := lc.Roll(RollEvent{Instrument: "GC", Date: testStart, Price: dec("110")}); ok {
		t.Fatal("roll applied with nothing open")
	}
	if log.Count(EventRollNoOp) != 1 || log.Count(EventRoll) != 0 {
		t.Fatalf("events = %+v", log.Events)
	}
}

func TestRollRebasesAndCarriesPnL(t *testing.T) {
	lc, log := newTestLifecycle()
	p := openPosition(t, lc)
	lc.Step(day(1, "100", "101.5", "99", "101", "2"))

	adj, ok := lc.Roll(RollEvent{Instrument: "GC", Date: testStart.AddDate(0, 0, 2), Price: dec("110")})
	if !ok {
		t.Fatal("roll not applied")
	}
	if !adj.OldBasis.Equal(dec("100")) || !adj.NewBasis.Equal(dec("110")) {
		t.Fatalf("adjustment = %+v", adj)
	}
	if !adj.OldMark.Equal(dec("101")) || !adj.Spread.Equal(dec("9")) {
		t.Fatalf("old mark = %s, spread = %s", adj.OldMark, adj.Spread)
	}
	if !p.StopPrice.Equal(dec("105")) || !adj.StopDistance.Equal(dec("2.5")) {
		t.Fatalf("stop = %s, distance = %s", p.StopPrice, adj.StopDistance)
	}
	if !p.Ladder[0].Equal(dec("111")) {
		t.Fatalf("ladder = %v", p.Ladder)
	}
	if p.TotalUnits != 500 || !p.OriginalEntryPrice.Equal(dec("100")) {
		t.Fatalf("units=%d original=%s", p.TotalUnits, p.OriginalEntryPrice)
	}
	if !p.CarriedPnL.Equal(dec("500")) {
		t.Fatalf("carried = %s", p.CarriedPnL)
	}
	if log.Count(EventRoll) != 1 {
		t.Fatal("roll event missing")
	}

	bar := Bar{Date: testStart.AddDate(0, 0, 3), Open: dec("110"), High: dec("111.5"), Low: dec("109"), Close: dec("111")}
	tr, _ := lc.ForceClose("GC", 3, bar)
	if !tr.PnL.Equal(dec("1000")) {
		t.Fatalf("pnl = %s, want carried 500 + 500 on the new contract", tr.PnL)
	}
	if len(lc.OpenPositions()) != 0 {
		t.Fatal("roll must not leave a second position")
	}
}

// singleUnitLifecycle never pyramids.
func singleUnitLifecycle() *Lifecycle {
	return NewLifecycle(NewSizer(dec("100000"), dec("1")), 1, SystemLong, nil, nil)
}

func TestRollKeepsStopDistanceFromMarket(t *testing.T) {
	cases := []struct {
		name, price, stop string
	}{
		{"contango", "121", "97"},
		{"backwardation", "90", "66"},
	}
	for _, tc := range cases {
		lc := singleUnitLifecycle()
		p := openPosition(t, lc)
		lc.Step(day(1, "100", "120", "110", "120", "2"))
		before := p.LastPrice.Sub(p.StopPrice)
		if !before.Equal(dec("24")) {
			t.Fatalf("%s: cushion before roll = %s", tc.name, before)
		}

		lc.Roll(RollEvent{Instrument: "GC", Date: testStart.AddDate(0, 0, 2), Price: dec(tc.price)})
		if !p.StopPrice.Equal(dec(tc.stop)) {
			t.Fatalf("%s: stop = %s, want %s", tc.name, p.StopPrice, tc.stop)
		}
		if after := p.LastPrice.Sub(p.StopPrice); !after.Equal(before) {
			t.Fatalf("%s: cushion after roll = %s, want %s", tc.name, after, before)
		}
		if !p.CarriedPnL.Equal(dec("10000")) {
			t.Fatalf("%s: carried = %s", tc.name, p.CarriedPnL)
		}

		// four points down on the new contract stays well clear of the stop
		np := dec(tc.price)
		bar := day(3, np.String(), np.String(), np.Sub(dec("5")).String(), np.Sub(dec("4")).String(), "2")
		if tr := lc.Step(bar); tr != nil {
			t.Fatalf("%s: rolled position closed by %s at %s", tc.name, tr.ExitReason, tr.ExitPrice)
		}
	}
}

func TestPyramidAfterRollUsesShiftedLadder(t *testing.T) {
	lc, log := newTestLifecycle()
	p := openPosition(t, lc)
	lc.Step(day(1, "100", "101", "99.5", "101", "2"))
	if p.PyramidCount != 1 {
		t.Fatal("pyramided before the roll")
	}

	// the new contract trades 6 below the old one
	lc.Roll(RollEvent{Instrument: "GC", Date: testStart.AddDate(0, 0, 2), Price: dec("95")})
	if !p.StopPrice.Equal(dec("90")) || !p.Ladder[0].Equal(dec("96")) {
		t.Fatalf("stop = %s, ladder = %v", p.StopPrice, p.Ladder)
	}

	if tr := lc.Step(day(3, "95", "96.5", "94", "96", "2")); tr != nil {
		t.Fatalf("unexpected close %s", tr.ExitReason)
	}
	if p.PyramidCount != 2 || p.TotalUnits != 1000 {
		t.Fatalf("pyramids=%d units=%d", p.PyramidCount, p.TotalUnits)
	}
	if !p.Fills[1].Price.Equal(dec("96")) || !p.EntryPrice.Equal(dec("95.5")) {
		t.Fatalf("fill = %s, basis = %s", p.Fills[1].Price, p.EntryPrice)
	}
	if !p.StopPrice.Equal(dec("92")) {
		t.Fatalf("stop = %s, want 92 after the add", p.StopPrice)
	}
	if next, _ := p.NextTrigger(); !next.Equal(dec("98")) {
		t.Fatalf("next trigger = %s", next)
	}
	if !p.OriginalEntryPrice.Equal(dec("100")) {
		t.Fatalf("original entry = %s", p.OriginalEntryPrice)
	}
	if log.Count(EventPyramid) != 1 {
		t.Fatal("pyramid event missing")
	}

	bar := Bar{Date: testStart.AddDate(0, 0, 4), Open: dec("96"), High: dec("96.5"), Low: dec("95.5"), Close: dec("96")}
	tr, _ := lc.ForceClose("GC", 4, bar)
	if !tr.PnL.Equal(dec("1000")) {
		t.Fatalf("pnl = %s, want carried 500 + 500 on the new contract", tr.PnL)
	}
}
