// Package dataset resolves the configured bar source and roll schedule into
// engine inputs.
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"turtle-backtest/services/config"
	"turtle-backtest/services/csvfeed"
	"turtle-backtest/services/engine"
	"turtle-backtest/services/rollcal"
)

// Source loads bars for a set of instruments. An empty instrument list means
// everything the source holds.
type Source interface {
	LoadSeries(ctx context.Context, instruments []string, from, to time.Time) (engine.Series, error)
}

// CSVSource reads <dir>/<instrument>.csv files
type CSVSource struct {
	Dir string
}

func (s CSVSource) LoadSeries(ctx context.Context, instruments []string, from, to time.Time) (engine.Series, error) {
	series, _, err := csvfeed.LoadDir(s.Dir, instruments)
	if err != nil {
		return nil, err
	}
	return Clip(series, from, to), nil
}

// Clip keeps bars whose day lies in [from, to]. Zero bounds are open.
func Clip(series engine.Series, from, to time.Time) engine.Series {
	if from.IsZero() && to.IsZero() {
		return series
	}
	out := make(engine.Series, len(series))
	for inst, bars := range series {
		kept := make([]engine.Bar, 0, len(bars))
		for _, b := range bars {
			d := engine.Day(b.Date)
			if !from.IsZero() && d.Before(engine.Day(from)) {
				continue
			}
			if !to.IsZero() && d.After(engine.Day(to)) {
				continue
			}
			kept = append(kept, b)
		}
		out[inst] = kept
	}
	return out
}

type Loader struct {
	source Source
	rolls  config.RollConfig
	specs  map[string]engine.InstrumentSpec
	logger *zap.Logger
}

func NewLoader(source Source, rolls config.RollConfig, specs map[string]engine.InstrumentSpec, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, rolls: rolls, specs: specs, logger: logger}
}

func (l *Loader) Series(ctx context.Context, instruments []string, from, to time.Time) (engine.Series, error) {
	series, err := l.source.LoadSeries(ctx, instruments, from, to)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	l.logger.Info("Loaded series",
		zap.Int("instruments", len(series)),
		zap.Int("bars", series.BarCount()))
	return series, nil
}

// Rolls returns the explicit roll file when one is configured, otherwise
// derives rolls from replacement-contract bars in PricesDir. Instruments
// without a replacement file are not rolled.
func (l *Loader) Rolls(series engine.Series) ([]engine.RollEvent, error) {
	if l.rolls.File != "" {
		rolls, err := csvfeed.LoadRolls(l.rolls.File)
		if err != nil {
			return nil, fmt.Errorf("load rolls: %w", err)
		}
		return rolls, nil
	}
	if l.rolls.PricesDir == "" {
		return nil, nil
	}

	cal := rollcal.New(l.rolls.DaysBefore, l.specs, l.logger)
	var out []engine.RollEvent
	for _, inst := range series.Instruments() {
		path := filepath.Join(l.rolls.PricesDir, inst+".csv")
		if _, err := os.Stat(path); err != nil {
			l.logger.Debug("No replacement contract bars", zap.String("instrument", inst))
			continue
		}
		next, _, err := csvfeed.LoadBarsFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, cal.Schedule(inst, series[inst], next)...)
	}
	return out, nil
}
