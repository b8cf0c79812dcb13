package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxMissingWeekdays is how many consecutive weekdays may be absent before a
// gap is reported. Exchange holidays rarely exceed it.
const maxMissingWeekdays = 3

// Engine runs the day-by-day portfolio simulation. One Engine may run many
// times; runs share nothing.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// Result is everything a completed run produced
type Result struct {
	RunID         string            `json:"run_id"`
	Trades        []Trade           `json:"trades"`
	EquityCurve   []EquityPoint     `json:"equity_curve"`
	Summary       Summary           `json:"summary"`
	PerInstrument []InstrumentStats `json:"per_instrument"`
	Rolls         []RollAdjustment  `json:"rolls"`
	// FinalPositions marks every position still open on its instrument's
	// last bar, taken before the EndOfData close.
	FinalPositions []PositionSummary `json:"final_positions,omitempty"`
	FinalRisk      RiskReport        `json:"final_risk"`
	Gaps           []Gap             `json:"gaps,omitempty"`
	Events         []Event           `json:"events"`
	Manifest       *RunManifest      `json:"manifest"`
}

// New validates cfg and returns an engine with defaults applied. A nil
// logger discards output.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), logger: logger}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run simulates series over the union of its dates. Rolls are applied at the
// start of the first simulated day on or after their date. Input errors abort
// before any simulation; sizing skips never do.
func (e *Engine) Run(ctx context.Context, series Series, rolls []RollEvent) (*Result, error) {
	if err := ValidateSeries(series); err != nil {
		return nil, err
	}
	for _, r := range rolls {
		if r.Price.Sign() <= 0 {
			return nil, inputErr(CodeInvalidParams, r.Instrument, "roll price must be positive, got %s", r.Price)
		}
		if r.Date.IsZero() {
			return nil, inputErr(CodeInvalidParams, r.Instrument, "roll has no date")
		}
	}

	startTime := time.Now()
	runID := uuid.New().String()
	instruments := series.Instruments()
	dates := unionDates(series)

	snapshot, err := SnapshotConfig(e.cfg, series)
	if err != nil {
		return nil, err
	}
	dag := SignalDAG(e.cfg.Signals)
	manifest := &RunManifest{
		JobID:          runID,
		ConfigSnapshot: snapshot,
		Instruments:    instruments,
		FirstDate:      dates[0],
		LastDate:       dates[len(dates)-1],
		WarmupBars:     dag.WarmupBars(),
		RollEvents:     len(rolls),
		RollChecksum:   RollChecksum(rolls),
		CreatedAt:      startTime.UTC(),
	}

	e.logger.Info("Backtest started",
		zap.String("run_id", runID),
		zap.Int("instruments", len(instruments)),
		zap.Int("days", len(dates)),
		zap.String("entry_system", string(e.cfg.EntrySystem)),
		zap.String("account_size", e.cfg.AccountSize.String()),
		zap.String("risk_percent", e.cfg.RiskPercent.String()),
	)

	var gaps []Gap
	for _, inst := range instruments {
		for _, g := range DetectGaps(inst, series[inst], maxMissingWeekdays) {
			e.logger.Warn("Gap in bar series",
				zap.String("instrument", inst),
				zap.Time("after", g.After),
				zap.Time("before", g.Before),
				zap.Int("missing_weekdays", g.Weekdays),
			)
			gaps = append(gaps, g)
		}
	}

	signals, err := NewPlanner(0, e.cfg.Workers, e.logger).ComputeAll(ctx, series, e.cfg.Signals)
	if err != nil {
		return nil, err
	}

	index := make(map[string]map[time.Time]int, len(instruments))
	multipliers := make(map[string]decimal.Decimal, len(instruments))
	for _, inst := range instruments {
		index[inst] = indexByDate(series[inst])
		multipliers[inst] = e.cfg.Multiplier(inst)
	}

	log := &EventLog{}
	lc := NewLifecycle(NewSizer(e.cfg.AccountSize, e.cfg.RiskPercent), e.cfg.MaxPyramids, e.cfg.EntrySystem, log, e.logger)
	pending := sortRolls(rolls)
	var adjustments []RollAdjustment

	applyRolls := func(through time.Time) {
		for len(pending) > 0 && !Day(pending[0].Date).After(through) {
			if adj, ok := lc.Roll(pending[0]); ok {
				adjustments = append(adjustments, adj)
			}
			pending = pending[1:]
		}
	}

	trades := make([]Trade, 0)
	equity := make([]EquityPoint, 0, len(dates))
	realized := decimal.Zero
	var final []PositionSummary

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest %s aborted on %s: %w", runID, date.Format("2006-01-02"), err)
		}
		applyRolls(date)

		for _, inst := range instruments {
			i, ok := index[inst][date]
			if !ok {
				continue
			}
			bars := series[inst]
			last := i == len(bars)-1
			in := DayInput{
				Instrument: inst,
				Index:      i,
				Bar:        bars[i],
				Signal:     signals[inst][i],
				Multiplier: multipliers[inst],
				LastBar:    last,
			}
			if t := lc.Step(in); t != nil {
				trades = append(trades, *t)
				realized = realized.Add(t.PnL)
			}
			if last {
				if id, ok := lc.OpenID(inst); ok {
					p, _ := lc.Get(id)
					final = append(final, p.Summary())
				}
				if t, ok := lc.ForceClose(inst, i, bars[i]); ok {
					trades = append(trades, t)
					realized = realized.Add(t.PnL)
				}
			}
		}

		open := lc.OpenPositions()
		marks := make([]PositionSummary, 0, len(open))
		openPnL := decimal.Zero
		for _, p := range open {
			s := p.Summary()
			marks = append(marks, s)
			openPnL = openPnL.Add(s.UnrealizedPnL)
		}
		equity = append(equity, EquityPoint{
			Date:     date,
			Equity:   e.cfg.AccountSize.Add(realized),
			OpenPnL:  openPnL,
			OpenRisk: OpenRisk(marks, e.cfg.AccountSize).TotalRiskDollars,
		})
	}
	// rolls dated after the last bar find nothing open
	applyRolls(time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))

	summary := Summarize(trades, equity, e.cfg.AccountSize)
	executionTime := time.Since(startTime)
	e.logger.Info("Backtest completed",
		zap.String("run_id", runID),
		zap.Duration("execution_time", executionTime),
		zap.Int("trades", summary.TotalTrades),
		zap.String("gross_pnl", summary.GrossPnL.String()),
		zap.String("final_equity", summary.FinalEquity.String()),
		zap.Int("sizing_skips", log.Count(EventSizingSkip)),
	)

	return &Result{
		RunID:          runID,
		Trades:         trades,
		EquityCurve:    equity,
		Summary:        summary,
		PerInstrument:  PerInstrument(trades),
		Rolls:          adjustments,
		FinalPositions: final,
		FinalRisk:      OpenRisk(final, e.cfg.AccountSize),
		Gaps:           gaps,
		Events:         log.Events,
		Manifest:       manifest,
	}, nil
}

// BarCount is the total number of bars across instruments.
func (s Series) BarCount() int {
	n := 0
	for _, bars := range s {
		n += len(bars)
	}
	return n
}
