package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScanRow is the latest signal state of one instrument with the position
// the sizer would open at its last close.
type ScanRow struct {
	Instrument string              `json:"instrument"`
	Date       time.Time           `json:"date"`
	Close      decimal.Decimal     `json:"close"`
	N          decimal.NullDecimal `json:"n"`
	HighShort  decimal.NullDecimal `json:"high_short"`
	HighLong   decimal.NullDecimal `json:"high_long"`
	LowExit    decimal.NullDecimal `json:"low_exit"`
	EntryShort bool                `json:"entry_short"`
	EntryLong  bool                `json:"entry_long"`
	ExitLong   bool                `json:"exit_long"`
	Sizing     *Sizing             `json:"sizing,omitempty"`
	SkipReason string              `json:"skip_reason,omitempty"`
}

// RiskReport aggregates the dollar exposure of a set of sized positions
type RiskReport struct {
	NumPositions     int             `json:"num_positions"`
	TotalNotional    decimal.Decimal `json:"total_notional"`
	TotalRiskDollars decimal.Decimal `json:"total_risk_dollars"`
	PctAccountAtRisk decimal.Decimal `json:"pct_of_account_at_risk"`
	Leverage         decimal.Decimal `json:"leverage"`
}

// Scan validates the inputs, computes signals for every instrument and sizes
// a hypothetical long entry at each latest close. Instruments whose sizing
// is skipped still get a row.
func Scan(ctx context.Context, cfg Config, series Series) ([]ScanRow, RiskReport, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, RiskReport{}, err
	}
	if err := ValidateSeries(series); err != nil {
		return nil, RiskReport{}, err
	}
	c := cfg.withDefaults()
	sizer := NewSizer(c.AccountSize, c.RiskPercent)

	signals, err := NewPlanner(0, c.Workers, nil).ComputeAll(ctx, series, c.Signals)
	if err != nil {
		return nil, RiskReport{}, err
	}

	var rows []ScanRow
	var sized []Sizing
	for _, inst := range series.Instruments() {
		last, ok := LatestSignal(signals[inst])
		if !ok {
			continue
		}
		row := ScanRow{
			Instrument: inst,
			Date:       last.Date,
			Close:      last.Close,
			N:          last.N,
			HighShort:  last.HighShort,
			HighLong:   last.HighLong,
			LowExit:    last.LowExit,
			EntryShort: last.EntryShort,
			EntryLong:  last.EntryLong,
			ExitLong:   last.ExitLong,
		}
		if !last.N.Valid {
			row.SkipReason = fmt.Errorf("%w: N undefined", ErrSizingSkip).Error()
			rows = append(rows, row)
			continue
		}
		sz, err := sizer.Size(SideLong, last.Close, last.N.Decimal, c.Multiplier(inst), c.MaxPyramids)
		switch {
		case errors.Is(err, ErrSizingSkip):
			row.SkipReason = err.Error()
		case err != nil:
			return nil, RiskReport{}, err
		default:
			row.Sizing = &sz
			sized = append(sized, sz)
		}
		rows = append(rows, row)
	}
	return rows, PortfolioRisk(sized, c.AccountSize), nil
}

// PortfolioRisk sums notional and risk dollars across sizings. Percent at
// risk and leverage are zero for a non-positive account.
func PortfolioRisk(sizings []Sizing, accountSize decimal.Decimal) RiskReport {
	r := RiskReport{NumPositions: len(sizings)}
	for _, s := range sizings {
		r.TotalNotional = r.TotalNotional.Add(s.Notional)
		r.TotalRiskDollars = r.TotalRiskDollars.Add(s.RiskDollars)
	}
	if accountSize.Sign() > 0 {
		r.PctAccountAtRisk = r.TotalRiskDollars.Div(accountSize).Mul(hundred)
		r.Leverage = r.TotalNotional.Div(accountSize)
	}
	return r
}

// OpenRisk reports the exposure of open positions at their last mark.
func OpenRisk(positions []PositionSummary, accountSize decimal.Decimal) RiskReport {
	sizings := make([]Sizing, 0, len(positions))
	for _, p := range positions {
		sizings = append(sizings, Sizing{Notional: p.Notional, RiskDollars: p.RiskDollars})
	}
	return PortfolioRisk(sizings, accountSize)
}
