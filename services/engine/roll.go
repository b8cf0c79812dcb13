package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RollEvent tells the engine to move an instrument's open position onto the
// next contract at Price. Calendars are computed outside the engine.
type RollEvent struct {
	Instrument    string          `json:"instrument" yaml:"instrument"`
	Date          time.Time       `json:"date" yaml:"date"`
	Price         decimal.Decimal `json:"price" yaml:"price"`
	ContractMonth int             `json:"contract_month,omitempty" yaml:"contract_month"`
}

// RollAdjustment describes how a roll rewrote a position
type RollAdjustment struct {
	PositionID   string          `json:"position_id"`
	OldBasis     decimal.Decimal `json:"old_basis"`
	NewBasis     decimal.Decimal `json:"new_basis"`
	OldMark      decimal.Decimal `json:"old_mark"`
	Spread       decimal.Decimal `json:"spread"`
	OldStop      decimal.Decimal `json:"old_stop"`
	NewStop      decimal.Decimal `json:"new_stop"`
	StopDistance decimal.Decimal `json:"stop_distance_n"`
}

// roll rewrites the cost basis onto the replacement contract. Units are kept
// and the stop and remaining ladder shift by the spread between the old
// contract's last mark and the new price, so their distance from the market
// is unchanged. The result marked on the old contract is carried into the
// eventual trade.
func (p *Position) roll(ev RollEvent) RollAdjustment {
	delta := ev.Price.Sub(p.LastPrice)
	adj := RollAdjustment{
		PositionID: p.ID,
		OldBasis:   p.EntryPrice,
		NewBasis:   ev.Price,
		OldMark:    p.LastPrice,
		Spread:     delta,
		OldStop:    p.StopPrice,
	}
	if p.NAtEntry.Sign() > 0 {
		adj.StopDistance = p.LastPrice.Sub(p.StopPrice).Abs().Div(p.NAtEntry)
	}

	p.CarriedPnL = p.CarriedPnL.Add(p.PnLAt(p.LastPrice))
	p.EntryPrice = ev.Price
	p.StopPrice = p.StopPrice.Add(delta)
	for i := range p.Ladder {
		p.Ladder[i] = p.Ladder[i].Add(delta)
	}
	p.LastPrice = ev.Price
	p.Rolls++

	adj.NewStop = p.StopPrice
	return adj
}

// sortRolls orders events by date then instrument.
func sortRolls(events []RollEvent) []RollEvent {
	out := make([]RollEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := Day(out[i].Date), Day(out[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}
