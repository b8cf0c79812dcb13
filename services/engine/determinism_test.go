package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func testConfig() Config {
	return Config{
		AccountSize: dec("1000000"),
		RiskPercent: dec("1"),
		Instruments: map[string]InstrumentSpec{"GC": {Multiplier: dec("1")}},
	}
}

// upThenDown rises two points a bar, then falls two points a bar.
func upThenDown(n int) []float64 {
	out := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, 100+2*float64(i))
	}
	top := out[n-1]
	for i := 1; i <= n; i++ {
		out = append(out, top-2*float64(i))
	}
	return out
}

func runEngine(t *testing.T, cfg Config, series Series, rolls []RollEvent) *Result {
	t.Helper()
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Run(context.Background(), series, rolls)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestReplayIsByteIdentical(t *testing.T) {
	series := Series{
		"GC": barsFromCloses(upThenDown(100)),
		"CL": barsFromCloses(risingCloses(150, 50, 2)),
	}
	cfg := testConfig()
	cfg.Workers = 3

	a := runEngine(t, cfg, series, nil)
	cfg.Workers = 1
	b := runEngine(t, cfg, series, nil)

	if len(a.Trades) == 0 {
		t.Fatal("scenario should trade")
	}
	for _, pair := range [][2]any{{a.Trades, b.Trades}, {a.EquityCurve, b.EquityCurve}, {a.Events, b.Events}} {
		x, _ := json.Marshal(pair[0])
		y, _ := json.Marshal(pair[1])
		if !bytes.Equal(x, y) {
			t.Fatalf("runs differ:\n%s\n%s", x, y)
		}
	}
}

func TestEndOfDataClosesAtLastBar(t *testing.T) {
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(risingCloses(80, 100, 2))}, nil)

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != ExitEndOfData || !tr.ExitPrice.Equal(dec("258")) {
		t.Fatalf("exit %s at %s", tr.ExitReason, tr.ExitPrice)
	}
	// entered at 210, pyramided at 213, 216 and 219 with 3333 units each
	if tr.Units != 13332 || tr.Pyramids != 4 {
		t.Fatalf("units=%d pyramids=%d", tr.Units, tr.Pyramids)
	}
	if !tr.EntryPrice.Equal(dec("214.5")) || !tr.PnL.Equal(dec("579942")) {
		t.Fatalf("entry=%s pnl=%s", tr.EntryPrice, tr.PnL)
	}
	if tr.DaysHeld != 24 {
		t.Fatalf("days held = %d", tr.DaysHeld)
	}
	if !res.Summary.GrossPnL.Equal(tr.PnL) {
		t.Fatal("end-of-data trade must count in gross pnl")
	}
	last := res.EquityCurve[len(res.EquityCurve)-1]
	if !last.Equity.Equal(dec("1579942")) || !last.OpenPnL.IsZero() {
		t.Fatalf("last equity point = %+v", last)
	}
}

func TestOpenPositionsMarkedBeforeEndOfData(t *testing.T) {
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(risingCloses(80, 100, 2))}, nil)
	if len(res.FinalPositions) != 1 {
		t.Fatalf("final positions = %d", len(res.FinalPositions))
	}
	fp, tr := res.FinalPositions[0], res.Trades[0]
	if fp.PositionID != tr.PositionID || !fp.CurrentPrice.Equal(dec("258")) {
		t.Fatalf("final mark = %+v", fp)
	}
	if !fp.UnrealizedPnL.Equal(tr.PnL) || fp.TotalUnits != tr.Units {
		t.Fatalf("mark pnl=%s units=%d, trade pnl=%s units=%d", fp.UnrealizedPnL, fp.TotalUnits, tr.PnL, tr.Units)
	}
	if res.FinalRisk.NumPositions != 1 || !res.FinalRisk.TotalRiskDollars.Equal(fp.RiskDollars) || fp.RiskDollars.Sign() <= 0 {
		t.Fatalf("final risk = %+v", res.FinalRisk)
	}

	if !res.EquityCurve[10].OpenRisk.IsZero() {
		t.Fatal("open risk before any entry")
	}
	if res.EquityCurve[70].OpenRisk.Sign() <= 0 {
		t.Fatalf("open risk while holding = %s", res.EquityCurve[70].OpenRisk)
	}
	if last := res.EquityCurve[len(res.EquityCurve)-1]; !last.OpenRisk.IsZero() {
		t.Fatalf("open risk after the final close = %s", last.OpenRisk)
	}
}

func TestNoEntryOnFinalBar(t *testing.T) {
	// the first breakout lands on bar 55, the last one
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(risingCloses(56, 100, 2))}, nil)
	if len(res.Trades) != 0 || res.Summary.TotalTrades != 0 {
		t.Fatalf("trades = %d", len(res.Trades))
	}
	for _, ev := range res.Events {
		if ev.Type == EventEntry {
			t.Fatalf("entry on the final bar: %+v", ev)
		}
	}
	if len(res.FinalPositions) != 0 || len(res.EquityCurve) != 56 {
		t.Fatalf("final positions = %d, equity points = %d", len(res.FinalPositions), len(res.EquityCurve))
	}
}

func TestEquityIsRealizedOnly(t *testing.T) {
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(risingCloses(80, 100, 2))}, nil)
	mid := res.EquityCurve[70]
	if !mid.Equity.Equal(dec("1000000")) {
		t.Fatalf("equity moved before any close: %s", mid.Equity)
	}
	if mid.OpenPnL.Sign() <= 0 {
		t.Fatalf("open pnl = %s, want positive", mid.OpenPnL)
	}
}

func TestEquityCurveCoversUnionOfDates(t *testing.T) {
	gc := barsFromCloses(risingCloses(30, 100, 1))
	cl := barsFromCloses(risingCloses(40, 50, 1))[10:]
	res := runEngine(t, testConfig(), Series{"GC": gc, "CL": cl}, nil)
	if len(res.EquityCurve) != 40 {
		t.Fatalf("equity points = %d, want 40", len(res.EquityCurve))
	}
}

func TestExitChannelAfterReversal(t *testing.T) {
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(upThenDown(100))}, nil)
	if len(res.Trades) != 1 {
		t.Fatalf("trades = %+v", res.Trades)
	}
	// the sixth falling bar closes under the prior 10-bar low
	tr := res.Trades[0]
	if tr.ExitReason != ExitSignal || !tr.ExitPrice.Equal(dec("286")) {
		t.Fatalf("exit %s at %s", tr.ExitReason, tr.ExitPrice)
	}
}

func TestRollEventsAreApplied(t *testing.T) {
	bars := barsFromCloses(risingCloses(80, 100, 2))
	rolls := []RollEvent{
		{Instrument: "GC", Date: bars[10].Date, Price: dec("130")},
		{Instrument: "GC", Date: bars[70].Date, Price: dec("240")},
	}
	res := runEngine(t, testConfig(), Series{"GC": bars}, rolls)
	if len(res.Rolls) != 1 {
		t.Fatalf("applied rolls = %d, want 1", len(res.Rolls))
	}
	if n := len(res.Trades); n != 1 {
		t.Fatalf("roll must not create trades, got %d", n)
	}
	noops := 0
	for _, ev := range res.Events {
		if ev.Type == EventRollNoOp {
			noops++
		}
	}
	if noops != 1 {
		t.Fatalf("roll no-ops = %d", noops)
	}
}

func TestInputErrorsAbortBeforeSimulation(t *testing.T) {
	e, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	bars := barsFromCloses(risingCloses(5, 10, 1))
	bars[3].Date = bars[1].Date
	bad := barsFromCloses(risingCloses(5, 10, 1))
	bad[2].Low = dec("100")

	cases := []struct {
		name   string
		series Series
		code   ErrorCode
	}{
		{"empty", Series{}, CodeEmptySeries},
		{"no bars", Series{"GC": nil}, CodeEmptySeries},
		{"non-monotonic", Series{"GC": bars}, CodeNonMonotonic},
		{"low above high", Series{"GC": bad}, CodeMalformedBar},
	}
	for _, tc := range cases {
		_, err := e.Run(context.Background(), tc.series, nil)
		var ie *InputError
		if !errors.As(err, &ie) || ie.Code != tc.code {
			t.Fatalf("%s: err = %v, want %s", tc.name, err, tc.code)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := []Config{
		{AccountSize: dec("0"), RiskPercent: dec("1")},
		{AccountSize: dec("1000"), RiskPercent: dec("-1")},
		{AccountSize: dec("1000"), RiskPercent: dec("1"), MaxPyramids: -1},
		{AccountSize: dec("1000"), RiskPercent: dec("1"), EntrySystem: "system3"},
	}
	for i, cfg := range bad {
		if _, err := New(cfg, nil); err == nil {
			t.Fatalf("config %d accepted", i)
		}
	}
}

func TestResultSurvivesJSON(t *testing.T) {
	res := runEngine(t, testConfig(), Series{"GC": barsFromCloses(upThenDown(100))}, nil)
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var back Result
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	again, err := json.Marshal(&back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatal("result changed after a JSON round trip")
	}
	if back.Events[0].Type != res.Events[0].Type || back.Trades[0].ExitReason != ExitSignal {
		t.Fatalf("enums not restored: %v %v", back.Events[0].Type, back.Trades[0].ExitReason)
	}
}
