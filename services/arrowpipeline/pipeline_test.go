package arrowpipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/shopspring/decimal"

	"turtle-backtest/services/engine"
)

func testSeries() engine.Series {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	mk := func(n int, base float64) []engine.Bar {
		out := make([]engine.Bar, n)
		for i := range out {
			c := decimal.NewFromFloat(base + float64(i)*0.25)
			out[i] = engine.Bar{
				Date:   start.AddDate(0, 0, i),
				Open:   c,
				High:   c.Add(decimal.NewFromInt(1)),
				Low:    c.Sub(decimal.NewFromInt(1)),
				Close:  c,
				Volume: decimal.NewFromInt(int64(1000 + i)),
			}
		}
		return out
	}
	return engine.Series{"GC": mk(30, 2000), "CL": mk(25, 75.5)}
}

func TestBarsRoundTrip(t *testing.T) {
	p := NewPipeline(nil)
	series := testSeries()

	var buf bytes.Buffer
	if err := p.WriteRecord(&buf, p.BarsRecord(series)); err != nil {
		t.Fatal(err)
	}
	got, err := p.ReadBars(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got["GC"]) != 30 || len(got["CL"]) != 25 {
		t.Fatalf("instruments = %d", len(got))
	}
	want := series["CL"][7]
	have := got["CL"][7]
	if !have.Date.Equal(want.Date) || !have.Close.Equal(want.Close) || !have.Volume.Equal(want.Volume) {
		t.Fatalf("bar = %+v, want %+v", have, want)
	}
}

func TestSignalsRecordKeepsNulls(t *testing.T) {
	p := NewPipeline(nil)
	series := testSeries()
	signals := map[string][]engine.SignalRow{
		"GC": engine.ComputeSignals(series["GC"], engine.SignalParams{}),
	}
	rec := p.SignalsRecord(signals)
	defer rec.Release()

	if rec.NumRows() != 30 {
		t.Fatalf("rows = %d", rec.NumRows())
	}
	n := rec.Column(3).(*array.Float64)
	// N needs a full 20-bar window
	if !n.IsNull(0) || n.IsNull(29) {
		t.Fatalf("null pattern wrong: first=%v last=%v", n.IsNull(0), n.IsNull(29))
	}
	if highLong := rec.Column(5).(*array.Float64); highLong.NullN() != 30 {
		t.Fatalf("55-bar channel should be null everywhere, nulls = %d", highLong.NullN())
	}
}

func TestTradesRecord(t *testing.T) {
	p := NewPipeline(nil)
	trades := []engine.Trade{{
		PositionID: "p1",
		Instrument: "GC",
		EntryDate:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EntryPrice: decimal.NewFromInt(100),
		ExitDate:   time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		ExitPrice:  decimal.NewFromInt(96),
		Units:      500,
		Pyramids:   1,
		PnL:        decimal.NewFromInt(-2000),
		ExitReason: engine.ExitStopHit,
		DaysHeld:   5,
	}}
	var buf bytes.Buffer
	if err := p.WriteRecord(&buf, p.TradesRecord(trades)); err != nil {
		t.Fatal(err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty stream")
	}
}
