package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Futures contract metadata and mark-to-market

// InstrumentSpec is the per-instrument contract configuration
type InstrumentSpec struct {
	Multiplier       decimal.Decimal `json:"multiplier" yaml:"multiplier"`
	ExpirationMonths []int           `json:"expiration_months,omitempty" yaml:"expiration_months"`
}

var defaultExpirationMonths = []int{1, 3, 5, 7, 9, 12}

// NextContractMonth returns the first listed month after current, wrapping
// into the next year. Listings may be in any order. Instruments without a
// listing use odd months plus Dec.
func (s InstrumentSpec) NextContractMonth(current int) int {
	months := defaultExpirationMonths
	if len(s.ExpirationMonths) > 0 {
		months = append([]int(nil), s.ExpirationMonths...)
		sort.Ints(months)
	}
	for _, m := range months {
		if m > current {
			return m
		}
	}
	return months[0]
}

// PositionSummary is the mark-to-market view of an open position
type PositionSummary struct {
	PositionID       string          `json:"position_id"`
	Instrument       string          `json:"instrument"`
	Status           PositionStatus  `json:"status"`
	EntryDate        time.Time       `json:"entry_date"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	TotalUnits       int64           `json:"total_units"`
	PyramidsAdded    int             `json:"pyramids_added"`
	StopPrice        decimal.Decimal `json:"stop_price"`
	Notional         decimal.Decimal `json:"notional"`
	RiskDollars      decimal.Decimal `json:"risk_dollars"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
}

// UnrealizedPnL is the open result at the last mark, including amounts
// carried across rolls.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CarriedPnL.Add(p.PnLAt(p.LastPrice))
}

// Summary marks the position at its last seen price.
func (p *Position) Summary() PositionSummary {
	units := decimal.NewFromInt(p.TotalUnits)
	pnl := p.UnrealizedPnL()
	pct := decimal.Zero
	if basis := p.costBasis(); basis.Sign() != 0 {
		pct = pnl.Div(basis).Mul(hundred)
	}
	return PositionSummary{
		PositionID:       p.ID,
		Instrument:       p.Instrument,
		Status:           p.Status,
		EntryDate:        p.EntryDate,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.LastPrice,
		TotalUnits:       p.TotalUnits,
		PyramidsAdded:    p.PyramidCount - 1,
		StopPrice:        p.StopPrice,
		Notional:         p.LastPrice.Mul(units).Mul(p.Multiplier),
		RiskDollars:      p.StopPrice.Sub(p.LastPrice).Abs().Mul(units).Mul(p.Multiplier),
		UnrealizedPnL:    pnl,
		UnrealizedPnLPct: pct,
	}
}
