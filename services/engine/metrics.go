package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one day of the realized equity curve. OpenPnL is the
// mark-to-market of open positions that day and is not part of Equity.
type EquityPoint struct {
	Date    time.Time       `json:"date"`
	Equity  decimal.Decimal `json:"equity"`
	OpenPnL decimal.Decimal `json:"open_pnl"`
	// OpenRisk is the dollar distance to the stops of open positions.
	OpenRisk decimal.Decimal `json:"open_risk"`
}

// profitFactorCap is reported when there are winners and no losers.
var profitFactorCap = decimal.NewFromInt(999)

type Summary struct {
	TotalTrades    int                `json:"total_trades"`
	WinningTrades  int                `json:"winning_trades"`
	LosingTrades   int                `json:"losing_trades"`
	WinRate        decimal.Decimal    `json:"win_rate_pct"`
	GrossPnL       decimal.Decimal    `json:"gross_pnl"`
	AvgPnLPerTrade decimal.Decimal    `json:"avg_pnl_per_trade"`
	ProfitFactor   decimal.Decimal    `json:"profit_factor"`
	BestTrade      decimal.Decimal    `json:"best_trade"`
	WorstTrade     decimal.Decimal    `json:"worst_trade"`
	AvgDaysHeld    decimal.Decimal    `json:"avg_days_held"`
	ExitReasons    map[ExitReason]int `json:"exit_reasons"`
	StartEquity    decimal.Decimal    `json:"start_equity"`
	FinalEquity    decimal.Decimal    `json:"final_equity"`
	TotalReturnPct decimal.Decimal    `json:"total_return_pct"`
	MaxDrawdownPct decimal.Decimal    `json:"max_drawdown_pct"`
}

// InstrumentStats is the per-instrument breakdown of the trade ledger
type InstrumentStats struct {
	Instrument     string          `json:"instrument"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	GrossPnL       decimal.Decimal `json:"gross_pnl"`
	AvgPnLPerTrade decimal.Decimal `json:"avg_pnl_per_trade"`
}

// Summarize rolls up the trade ledger and equity curve. A trade with zero
// PnL counts as neither a win nor a loss.
func Summarize(trades []Trade, equity []EquityPoint, startEquity decimal.Decimal) Summary {
	s := Summary{
		ExitReasons: make(map[ExitReason]int),
		StartEquity: startEquity,
		FinalEquity: startEquity,
	}
	var winsAmt, lossAmt decimal.Decimal
	days := 0

	for i, t := range trades {
		s.GrossPnL = s.GrossPnL.Add(t.PnL)
		switch t.PnL.Sign() {
		case 1:
			s.WinningTrades++
			winsAmt = winsAmt.Add(t.PnL)
		case -1:
			s.LosingTrades++
			lossAmt = lossAmt.Add(t.PnL.Neg())
		}
		if i == 0 || t.PnL.GreaterThan(s.BestTrade) {
			s.BestTrade = t.PnL
		}
		if i == 0 || t.PnL.LessThan(s.WorstTrade) {
			s.WorstTrade = t.PnL
		}
		s.ExitReasons[t.ExitReason]++
		days += t.DaysHeld
	}
	s.TotalTrades = len(trades)

	if s.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(s.TotalTrades))
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Mul(hundred).Div(n)
		s.AvgPnLPerTrade = s.GrossPnL.Div(n)
		s.AvgDaysHeld = decimal.NewFromInt(int64(days)).Div(n)
	}

	if lossAmt.IsZero() {
		if winsAmt.Sign() > 0 {
			s.ProfitFactor = profitFactorCap
		}
	} else {
		s.ProfitFactor = winsAmt.Div(lossAmt)
	}

	if len(equity) > 0 {
		s.FinalEquity = equity[len(equity)-1].Equity
	} else {
		s.FinalEquity = startEquity.Add(s.GrossPnL)
	}
	if startEquity.Sign() > 0 {
		s.TotalReturnPct = s.FinalEquity.Sub(startEquity).Div(startEquity).Mul(hundred)
	}
	s.MaxDrawdownPct = MaxDrawdownPct(equity, startEquity)
	return s
}

// MaxDrawdownPct is the largest peak-to-trough fall of the equity curve,
// as a percentage of the peak.
func MaxDrawdownPct(equity []EquityPoint, startEquity decimal.Decimal) decimal.Decimal {
	peak := startEquity
	maxDD := decimal.Zero
	for _, p := range equity {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.Sign() <= 0 {
			continue
		}
		dd := peak.Sub(p.Equity).Div(peak).Mul(hundred)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// PerInstrument groups the ledger by instrument, sorted by name.
func PerInstrument(trades []Trade) []InstrumentStats {
	by := make(map[string]*InstrumentStats)
	for _, t := range trades {
		st, ok := by[t.Instrument]
		if !ok {
			st = &InstrumentStats{Instrument: t.Instrument}
			by[t.Instrument] = st
		}
		st.TotalTrades++
		st.GrossPnL = st.GrossPnL.Add(t.PnL)
		switch t.PnL.Sign() {
		case 1:
			st.WinningTrades++
		case -1:
			st.LosingTrades++
		}
	}

	out := make([]InstrumentStats, 0, len(by))
	for _, st := range by {
		st.AvgPnLPerTrade = st.GrossPnL.Div(decimal.NewFromInt(int64(st.TotalTrades)))
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}
