package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"turtle-backtest/services/engine"
)

func bar(day int, close string) engine.Bar {
	c := decimal.RequireFromString(close)
	return engine.Bar{
		Date:  time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:  c,
		High:  c,
		Low:   c,
		Close: c,
	}
}

func TestCompareBars(t *testing.T) {
	stored := []engine.Bar{bar(2, "10"), bar(3, "10.5"), bar(5, "11")}
	file := []engine.Bar{bar(2, "10.00"), bar(3, "10.6"), bar(4, "10.8")}

	mm := compareBars("GC", stored, file)
	// day 3: open/high/low/close differ; day 4 only in file; day 5 only stored
	if len(mm) != 6 {
		t.Fatalf("mismatches = %v", mm)
	}
	if mm[0].Field != "open" || mm[0].Ours != "10.5" || mm[0].Reference != "10.6" {
		t.Fatalf("first = %+v", mm[0])
	}
	if mm[4].Field != "missing" || mm[4].Reference != "present" {
		t.Fatalf("file-only day = %+v", mm[4])
	}
	if mm[5].Field != "missing" || mm[5].Ours != "present" {
		t.Fatalf("stored-only day = %+v", mm[5])
	}
	if len(compareBars("GC", file[:1], stored[:1])) != 0 {
		t.Fatal("10 and 10.00 are the same price")
	}
}
