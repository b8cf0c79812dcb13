// Turtle - runs a breakout backtest or a signal scan from the command line
//
// Bars come from the configured source (CSV directory or ClickHouse). Trades
// and the equity curve are written as CSV; -arrow also writes Arrow IPC files
// of the signal table and trades.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"turtle-backtest/services/arrowpipeline"
	"turtle-backtest/services/config"
	"turtle-backtest/services/csvfeed"
	"turtle-backtest/services/dataset"
	"turtle-backtest/services/engine"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config (default: ./configs/turtle.yaml)")
		instruments = flag.String("instruments", "", "Comma-separated instruments (default: all in the source)")
		from        = flag.String("from", "", "First date to load, YYYY-MM-DD")
		to          = flag.String("to", "", "Last date to load, YYYY-MM-DD")
		outDir      = flag.String("out", "out", "Directory for trades.csv and equity.csv")
		scan        = flag.Bool("scan", false, "Print latest signals and sizing instead of running a backtest")
		writeArrow  = flag.Bool("arrow", false, "Also write signals.arrow and trades.arrow")
		replay      = flag.String("replay", "", "Explain the decisions of one position id")
		save        = flag.Bool("save", false, "Persist the result to ClickHouse (clickhouse source only)")
		benchSig    = flag.Bool("bench-signals", false, "Also time signal computation on its own")
	)
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *from != "" {
		cfg.Data.From = *from
	}
	if *to != "" {
		cfg.Data.To = *to
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ecfg, err := cfg.BacktestConfig()
	if err != nil {
		logger.Fatal("Invalid run configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, store, err := dataset.Open(ctx, cfg, ecfg.Instruments, logger)
	if err != nil {
		logger.Fatal("Failed to open data source", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	rangeFrom, rangeTo := cfg.DateRange()
	series, err := loader.Series(ctx, splitList(*instruments), rangeFrom, rangeTo)
	if err != nil {
		logger.Fatal("Failed to load bars", zap.Error(err))
	}

	if *scan {
		if err := runScan(ctx, ecfg, series); err != nil {
			logger.Fatal("Scan failed", zap.Error(err))
		}
		return
	}

	rolls, err := loader.Rolls(series)
	if err != nil {
		logger.Fatal("Failed to load rolls", zap.Error(err))
	}

	e, err := engine.New(ecfg, logger)
	if err != nil {
		logger.Fatal("Invalid run configuration", zap.Error(err))
	}
	monitor := engine.NewPerformanceMonitor(cfg.Engine.SLO)
	if *benchSig {
		sb := monitor.BenchmarkSignals(series, e.Config().Signals)
		logger.Info("Signal benchmark",
			zap.Duration("duration", sb.Duration),
			zap.Float64("bars_per_sec", sb.BarsPerSec),
		)
	}
	start := time.Now()
	res, err := e.Run(ctx, series, rolls)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}
	bench := monitor.RecordBenchmark("backtest", time.Since(start), series.BarCount())
	for _, v := range monitor.CheckSLOs() {
		logger.Warn("SLO violation", zap.String("detail", v))
	}
	logger.Info("Backtest finished",
		zap.String("run_id", res.RunID),
		zap.Int("trades", len(res.Trades)),
		zap.Int("rolls", len(res.Rolls)),
		zap.Int("gaps", len(res.Gaps)),
		zap.Float64("bars_per_sec", bench.BarsPerSec),
	)

	if err := writeOutputs(*outDir, res); err != nil {
		logger.Fatal("Failed to write outputs", zap.Error(err))
	}
	if *writeArrow {
		if err := writeArrowOutputs(*outDir, e.Config(), series, res, logger); err != nil {
			logger.Fatal("Failed to write Arrow outputs", zap.Error(err))
		}
	}
	if *save {
		if store == nil {
			logger.Warn("-save ignored: data source is not clickhouse")
		} else if err := store.SaveResult(ctx, res); err != nil {
			logger.Fatal("Failed to save result", zap.Error(err))
		}
	}

	if *replay != "" {
		fe := engine.NewForensicsEngine(res.Events)
		r, ok := fe.GetReplay(*replay)
		if !ok {
			logger.Fatal("Unknown position id", zap.String("position_id", *replay))
		}
		fmt.Println(engine.ExplainExit(r))
		return
	}

	printSummary(res)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func writeOutputs(dir string, res *engine.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "trades.csv"), func(f *os.File) error {
		return csvfeed.WriteTrades(f, res.Trades)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "equity.csv"), func(f *os.File) error {
		return csvfeed.WriteEquity(f, res.EquityCurve)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "manifest.json"), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Manifest)
	})
}

func writeArrowOutputs(dir string, cfg engine.Config, series engine.Series, res *engine.Result, logger *zap.Logger) error {
	p := arrowpipeline.NewPipeline(logger)
	signals := make(map[string][]engine.SignalRow, len(series))
	for _, inst := range series.Instruments() {
		signals[inst] = engine.ComputeSignals(series[inst], cfg.Signals)
	}
	if err := writeFile(filepath.Join(dir, "signals.arrow"), func(f *os.File) error {
		return p.WriteRecord(f, p.SignalsRecord(signals))
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "trades.arrow"), func(f *os.File) error {
		return p.WriteRecord(f, p.TradesRecord(res.Trades))
	})
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func printSummary(res *engine.Result) {
	s := res.Summary
	fmt.Printf("Run %s\n", res.RunID)
	fmt.Printf("  Trades:        %d (%d won, %d lost)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Printf("  Win rate:      %s%%\n", s.WinRate.StringFixed(2))
	fmt.Printf("  Gross PnL:     %s\n", s.GrossPnL.StringFixed(2))
	fmt.Printf("  Profit factor: %s\n", s.ProfitFactor.StringFixed(2))
	fmt.Printf("  Final equity:  %s (%s%%)\n", s.FinalEquity.StringFixed(2), s.TotalReturnPct.StringFixed(2))
	fmt.Printf("  Max drawdown:  %s%%\n", s.MaxDrawdownPct.StringFixed(2))
	fmt.Printf("  Rolls applied: %d\n", len(res.Rolls))
	for _, st := range res.PerInstrument {
		fmt.Printf("  %-6s trades=%d pnl=%s\n", st.Instrument, st.TotalTrades, st.GrossPnL.StringFixed(2))
	}
}

func runScan(ctx context.Context, cfg engine.Config, series engine.Series) error {
	rows, risk, err := engine.Scan(ctx, cfg, series)
	if err != nil {
		return err
	}
	fmt.Printf("%-6s %-10s %12s %10s %6s %6s %6s %8s %12s\n", "INST", "DATE", "CLOSE", "N", "S1", "S2", "EXIT", "UNITS", "STOP")
	for _, r := range rows {
		n := "-"
		if r.N.Valid {
			n = r.N.Decimal.StringFixed(2)
		}
		units, stop := "-", "-"
		if r.Sizing != nil {
			units = fmt.Sprint(r.Sizing.Units)
			stop = r.Sizing.StopPrice.StringFixed(2)
		}
		fmt.Printf("%-6s %-10s %12s %10s %6t %6t %6t %8s %12s\n",
			r.Instrument, r.Date.Format("2006-01-02"), r.Close.StringFixed(2), n,
			r.EntryShort, r.EntryLong, r.ExitLong, units, stop)
		if r.SkipReason != "" {
			fmt.Printf("       skipped: %s\n", r.SkipReason)
		}
	}
	fmt.Printf("\nPortfolio: %d positions, notional %s, risk %s (%s%% of account), leverage %sx\n",
		risk.NumPositions, risk.TotalNotional.StringFixed(2), risk.TotalRiskDollars.StringFixed(2),
		risk.PctAccountAtRisk.StringFixed(2), risk.Leverage.StringFixed(2))
	return nil
}
