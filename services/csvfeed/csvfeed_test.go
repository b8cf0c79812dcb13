package csvfeed

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"

	"turtle-backtest/services/engine"
)

const sample = `Date,Open,High,Low,Close,Volume
2024-01-03,101,103,100,102.5,1200
2024-01-02,100,101.5,99,100.25,1000
`

func TestReadBarsWithHeader(t *testing.T) {
	bars, err := ReadBars(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}
	// sorted ascending
	if bars[0].Date.Day() != 2 || !bars[0].Close.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("first bar = %+v", bars[0])
	}
	if !bars[1].Volume.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("volume = %s", bars[1].Volume)
	}
}

func TestReadBarsReorderedColumnsAndNoVolume(t *testing.T) {
	in := "close,low,high,open,date\n10,9,11,9.5,2024-02-01\n"
	bars, err := ReadBars(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	b := bars[0]
	if !b.Open.Equal(decimal.RequireFromString("9.5")) || !b.High.Equal(decimal.NewFromInt(11)) || !b.Volume.IsZero() {
		t.Fatalf("bar = %+v", b)
	}
}

func TestReadBarsHeaderlessUnixMillis(t *testing.T) {
	ms := time.Date(2024, 5, 6, 13, 30, 0, 0, time.UTC).UnixMilli()
	in := strings.Join([]string{
		"1714867200000,1,2,0.5,1.5,7",
		itoa(ms) + ",1.5,2.5,1,2,8",
	}, "\n")
	bars, err := ReadBars(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || !bars[1].Date.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("bars = %+v", bars)
	}
}

func itoa(n int64) string { return decimal.NewFromInt(n).String() }

func TestReadBarsUTF16(t *testing.T) {
	units := utf16.Encode([]rune(sample))
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFE})
	for _, u := range units {
		binary.Write(&buf, binary.LittleEndian, u)
	}
	bars, err := ReadBars(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}
}

func TestReadBarsErrors(t *testing.T) {
	if _, err := ReadBars(strings.NewReader("date,open,high,low,close\n")); err != ErrNoBars {
		t.Fatalf("err = %v", err)
	}
	if _, err := ReadBars(strings.NewReader("2024-01-02,1,2,x,1\n")); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("err = %v", err)
	}
	if _, err := ReadBars(strings.NewReader("foo,bar\n")); err == nil {
		t.Fatal("garbage header accepted")
	}
}

func TestLoadDirAndDigest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gc.csv"), []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	series, digests, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(series["GC"]) != 2 || len(digests["GC"]) != 64 {
		t.Fatalf("series=%v digests=%v", series, digests)
	}
	_, again, _ := LoadDir(dir, []string{"gc"})
	if again["GC"] != digests["GC"] {
		t.Fatal("digest not stable")
	}
	if _, _, err := LoadDir(dir, []string{"CL"}); err == nil {
		t.Fatal("missing instrument accepted")
	}
}

func TestReadRolls(t *testing.T) {
	in := "symbol,roll_date,new_price,month\ngc,2024-03-15,2051.3,6\nCL,2024-04-10,81\n"
	rolls, err := ReadRolls(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(rolls) != 2 || rolls[0].Instrument != "GC" || rolls[0].ContractMonth != 6 {
		t.Fatalf("rolls = %+v", rolls)
	}
	if !rolls[1].Price.Equal(decimal.NewFromInt(81)) || rolls[1].ContractMonth != 0 {
		t.Fatalf("second roll = %+v", rolls[1])
	}
}

func TestWriteTradesAndEquity(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTrades(&buf, []engine.Trade{{
		PositionID: "p1", Instrument: "GC", EntryDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EntryPrice: decimal.NewFromInt(100), ExitDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		ExitPrice: decimal.NewFromInt(96), Units: 500, Pyramids: 1, PnL: decimal.NewFromInt(-2000),
		PnLPct: decimal.NewFromInt(-4), ExitReason: engine.ExitStopHit, DaysHeld: 3,
	}})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "-2000.00,-4.00,StopHit,3") {
		t.Fatalf("csv = %q", buf.String())
	}

	buf.Reset()
	if err := WriteEquity(&buf, []engine.EquityPoint{{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Equity: decimal.NewFromInt(1000)}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2024-01-02,1000.00,0.00") {
		t.Fatalf("equity csv = %q", buf.String())
	}
}

func TestWriteBarsRoundTrip(t *testing.T) {
	bars, _ := ReadBars(strings.NewReader(sample))
	var buf bytes.Buffer
	if err := WriteBars(&buf, bars); err != nil {
		t.Fatal(err)
	}
	again, err := ReadBars(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !again[1].Close.Equal(bars[1].Close) {
		t.Fatalf("round trip changed close: %s", again[1].Close)
	}
}
