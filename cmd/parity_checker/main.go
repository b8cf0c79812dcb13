package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"turtle-backtest/services/clickhouse"
	"turtle-backtest/services/config"
	"turtle-backtest/services/csvfeed"
	"turtle-backtest/services/engine"
)

// ParityChecker compares the canonical ClickHouse bars with the CSV files
// they were ingested from, and runs the engine's golden cases.
type ParityChecker struct {
	store  *clickhouse.Store
	dir    string
	logger *zap.Logger
}

// Mismatch is one field of one bar that differs between the two sources.
type Mismatch struct {
	Instrument string
	Date       time.Time
	Field      string
	Ours       string
	Reference  string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s %s %s: stored=%s file=%s", m.Instrument, m.Date.Format("2006-01-02"), m.Field, m.Ours, m.Reference)
}

// compareBars matches bars by date. Days present on only one side are
// reported with field "missing".
func compareBars(instrument string, ours, reference []engine.Bar) []Mismatch {
	byDate := make(map[time.Time]engine.Bar, len(ours))
	for _, b := range ours {
		byDate[engine.Day(b.Date)] = b
	}
	var out []Mismatch
	seen := make(map[time.Time]bool, len(reference))
	for _, ref := range reference {
		d := engine.Day(ref.Date)
		seen[d] = true
		b, ok := byDate[d]
		if !ok {
			out = append(out, Mismatch{Instrument: instrument, Date: d, Field: "missing", Ours: "-", Reference: "present"})
			continue
		}
		fields := []struct {
			name      string
			got, want string
			equal     bool
		}{
			{"open", b.Open.String(), ref.Open.String(), b.Open.Equal(ref.Open)},
			{"high", b.High.String(), ref.High.String(), b.High.Equal(ref.High)},
			{"low", b.Low.String(), ref.Low.String(), b.Low.Equal(ref.Low)},
			{"close", b.Close.String(), ref.Close.String(), b.Close.Equal(ref.Close)},
			{"volume", b.Volume.String(), ref.Volume.String(), b.Volume.Equal(ref.Volume)},
		}
		for _, f := range fields {
			if !f.equal {
				out = append(out, Mismatch{Instrument: instrument, Date: d, Field: f.name, Ours: f.got, Reference: f.want})
			}
		}
	}
	for _, b := range ours {
		if d := engine.Day(b.Date); !seen[d] {
			out = append(out, Mismatch{Instrument: instrument, Date: d, Field: "missing", Ours: "present", Reference: "-"})
		}
	}
	return out
}

// runParityCheck returns the number of compared bars and every mismatch.
func (pc *ParityChecker) runParityCheck(ctx context.Context, instruments []string) (int, []Mismatch, error) {
	files, _, err := csvfeed.LoadDir(pc.dir, instruments)
	if err != nil {
		return 0, nil, err
	}
	var (
		total      int
		mismatches []Mismatch
	)
	for _, inst := range files.Instruments() {
		stored, err := pc.store.LoadBars(ctx, inst, time.Time{}, time.Time{})
		if err != nil {
			return 0, nil, err
		}
		total += len(files[inst])
		mm := compareBars(inst, stored, files[inst])
		pc.logger.Info("Compared instrument",
			zap.String("instrument", inst),
			zap.Int("file_bars", len(files[inst])),
			zap.Int("stored_bars", len(stored)),
			zap.Int("mismatches", len(mm)))
		mismatches = append(mismatches, mm...)
	}
	return total, mismatches, nil
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	dir := flag.String("dir", "", "Reference CSV directory (default: data.dir)")
	engineOnly := flag.Bool("engine-only", false, "Only run the engine golden cases")
	maxReport := flag.Int("max-report", 20, "Mismatches to print")
	flag.Parse()

	log.Printf("Running engine golden cases...")
	if failures := engine.RunParitySuite(); len(failures) > 0 {
		for _, f := range failures {
			log.Printf("  FAIL %s", f)
		}
		os.Exit(1)
	}
	log.Printf("  %d golden cases passed", len(engine.GoldenCases))
	if *engineOnly {
		return
	}

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer store.Close()

	pc := &ParityChecker{store: store, dir: *dir, logger: logger}
	if pc.dir == "" {
		pc.dir = cfg.Data.Dir
	}

	total, mismatches, err := pc.runParityCheck(ctx, flag.Args())
	if err != nil {
		log.Fatalf("Parity check failed: %v", err)
	}

	log.Printf("Parity check summary:")
	log.Printf("  Total comparisons: %d", total)
	log.Printf("  Mismatches found: %d", len(mismatches))
	for i, m := range mismatches {
		if i == *maxReport {
			log.Printf("  ... %d more", len(mismatches)-i)
			break
		}
		log.Printf("  %s", m)
	}
	if len(mismatches) > 0 {
		os.Exit(1)
	}
}
