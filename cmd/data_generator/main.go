//! Data Generator - Creates sample daily futures bars for testing
//!
//! Writes one <INSTRUMENT>.csv per instrument with trending and ranging
//! stretches, plus next-contract files under next/ for roll derivation.

package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"turtle-backtest/services/csvfeed"
	"turtle-backtest/services/engine"
)

// startPrices are rough levels for the usual futures symbols.
var startPrices = map[string]float64{
	"GC": 1800,
	"SI": 24,
	"CL": 75,
	"NG": 3.2,
	"HG": 3.9,
}

func main() {
	out := flag.String("out", "./data", "Output directory")
	instruments := flag.String("instruments", "GC,SI,CL", "Comma-separated instruments")
	days := flag.Int("days", 750, "Trading days per instrument")
	start := flag.String("start", "2021-01-04", "First trading day, YYYY-MM-DD")
	seed := flag.Int64("seed", 42, "Random seed")
	contango := flag.Float64("contango", 0.004, "Next-contract premium as a fraction of price; 0 skips next/ files")
	flag.Parse()

	first, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("Bad -start: %v", err)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}
	if *contango != 0 {
		if err := os.MkdirAll(filepath.Join(*out, "next"), 0o755); err != nil {
			log.Fatalf("Failed to create output dir: %v", err)
		}
	}

	// Fixed seed for reproducibility
	rng := rand.New(rand.NewSource(*seed))
	for _, inst := range strings.Split(*instruments, ",") {
		inst = strings.ToUpper(strings.TrimSpace(inst))
		if inst == "" {
			continue
		}
		bars := generate(rng, startPrice(inst), first, *days)
		path := filepath.Join(*out, inst+".csv")
		if err := writeBars(path, bars); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		if *contango != 0 {
			next := shift(bars, decimal.NewFromFloat(1+*contango))
			if err := writeBars(filepath.Join(*out, "next", inst+".csv"), next); err != nil {
				log.Fatalf("Failed to write next contract for %s: %v", inst, err)
			}
		}
		fmt.Printf("Generated %d bars for %s (%s to %s)\n", len(bars), inst,
			bars[0].Date.Format("2006-01-02"), bars[len(bars)-1].Date.Format("2006-01-02"))
	}
}

func startPrice(inst string) float64 {
	if p, ok := startPrices[inst]; ok {
		return p
	}
	return 100
}

// generate walks the close with alternating trend regimes, skipping weekends.
func generate(rng *rand.Rand, price float64, first time.Time, days int) []engine.Bar {
	bars := make([]engine.Bar, 0, days)
	date := first
	for i := 0; i < days; i++ {
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}

		// Generate some trending periods
		trend := 0.0
		switch (i / 120) % 4 {
		case 0:
			trend = 0.002 // Uptrend
		case 2:
			trend = -0.0015 // Downtrend
		}

		open := price
		change := (rng.Float64()-0.5)*0.03 + trend
		closePx := open * (1 + change)
		if closePx < 0.01 {
			closePx = 0.01
		}

		// Intraday range
		volatility := 0.004 + rng.Float64()*0.012
		high := math.Max(open, closePx) * (1 + volatility*rng.Float64())
		low := math.Min(open, closePx) * (1 - volatility*rng.Float64())
		volume := 20000 + rng.Float64()*80000 + math.Abs(change)*1e6

		bars = append(bars, engine.Bar{
			Date:   date,
			Open:   decimal.NewFromFloat(open).Round(4),
			High:   decimal.NewFromFloat(high).RoundCeil(4),
			Low:    decimal.NewFromFloat(low).RoundFloor(4),
			Close:  decimal.NewFromFloat(closePx).Round(4),
			Volume: decimal.NewFromFloat(volume).Round(0),
		})

		price = closePx
		date = date.AddDate(0, 0, 1)
	}
	return bars
}

// shift scales every price by factor, keeping the range valid.
func shift(bars []engine.Bar, factor decimal.Decimal) []engine.Bar {
	out := make([]engine.Bar, len(bars))
	for i, b := range bars {
		out[i] = engine.Bar{
			Date:   b.Date,
			Open:   b.Open.Mul(factor).Round(4),
			High:   b.High.Mul(factor).RoundCeil(4),
			Low:    b.Low.Mul(factor).RoundFloor(4),
			Close:  b.Close.Mul(factor).Round(4),
			Volume: b.Volume,
		}
	}
	return out
}

func writeBars(path string, bars []engine.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := csvfeed.WriteBars(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
