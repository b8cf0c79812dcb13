package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus int

const (
	StatusOpen PositionStatus = iota
	StatusClosed
)

func (s PositionStatus) String() string {
	if s == StatusClosed {
		return "closed"
	}
	return "open"
}

func (s PositionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PositionStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = StatusOpen
	case "closed":
		*s = StatusClosed
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

type ExitReason string

const (
	ExitStopHit   ExitReason = "StopHit"
	ExitSignal    ExitReason = "ExitSignal"
	ExitEndOfData ExitReason = "EndOfData"
)

// Fill is one unit block added to a position
type Fill struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
	Units int64           `json:"units"`
	N     decimal.Decimal `json:"n"`
}

// Position is one economic exposure in one instrument. Its fields are only
// changed through the methods below; the tracker owns every instance.
type Position struct {
	ID           string            `json:"id"`
	Instrument   string            `json:"instrument"`
	Side         Side              `json:"side"`
	Status       PositionStatus    `json:"status"`
	EntryDate    time.Time         `json:"entry_date"`
	EntryPrice   decimal.Decimal   `json:"entry_price"`
	TotalUnits   int64             `json:"total_units"`
	NAtEntry     decimal.Decimal   `json:"n_at_entry"`
	StopPrice    decimal.Decimal   `json:"stop_price"`
	PyramidCount int               `json:"pyramid_count"`
	MaxPyramids  int               `json:"max_pyramids"`
	Ladder       []decimal.Decimal `json:"ladder"`
	Multiplier   decimal.Decimal   `json:"multiplier"`
	Fills        []Fill            `json:"fills"`
	Rolls        int               `json:"rolls"`
	// OriginalEntryPrice is the average entry before the first roll.
	OriginalEntryPrice decimal.Decimal `json:"original_entry_price"`
	// CarriedPnL is the result accrued on contracts rolled out of.
	CarriedPnL decimal.Decimal `json:"carried_pnl"`
	LastPrice  decimal.Decimal `json:"last_price"`

	entryIndex int
}

func newPosition(id, instrument string, date time.Time, index, maxPyramids int, sz Sizing) *Position {
	return &Position{
		ID:                 id,
		Instrument:         instrument,
		Side:               sz.Side,
		Status:             StatusOpen,
		EntryDate:          date,
		EntryPrice:         sz.EntryPrice,
		TotalUnits:         sz.Units,
		NAtEntry:           sz.N,
		StopPrice:          sz.StopPrice,
		PyramidCount:       1,
		MaxPyramids:        maxPyramids,
		Ladder:             sz.Ladder,
		Multiplier:         sz.Multiplier,
		Fills:              []Fill{{Date: date, Price: sz.EntryPrice, Units: sz.Units, N: sz.N}},
		OriginalEntryPrice: sz.EntryPrice,
		LastPrice:          sz.EntryPrice,
		entryIndex:         index,
	}
}

func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

// StopBreached reports whether the bar traded through the stop.
func (p *Position) StopBreached(bar Bar) bool {
	if p.Side == SideShort {
		return bar.High.GreaterThanOrEqual(p.StopPrice)
	}
	return bar.Low.LessThanOrEqual(p.StopPrice)
}

// NextTrigger returns the next un-triggered pyramid price, if any remain.
func (p *Position) NextTrigger() (decimal.Decimal, bool) {
	if p.PyramidCount >= p.MaxPyramids {
		return decimal.Zero, false
	}
	level := p.PyramidCount - 1
	if level < 0 || level >= len(p.Ladder) {
		return decimal.Zero, false
	}
	return p.Ladder[level], true
}

// TriggerCrossed reports whether the bar reached the next pyramid price.
func (p *Position) TriggerCrossed(bar Bar) (decimal.Decimal, bool) {
	trigger, ok := p.NextTrigger()
	if !ok {
		return decimal.Zero, false
	}
	if p.Side == SideShort {
		return trigger, bar.Low.LessThanOrEqual(trigger)
	}
	return trigger, bar.High.GreaterThanOrEqual(trigger)
}

// AddUnits records a pyramid fill, re-averages the entry price and ratchets
// the stop. The stop only ever tightens.
func (p *Position) AddUnits(date time.Time, price decimal.Decimal, units int64, n decimal.Decimal) {
	if units <= 0 || !p.IsOpen() {
		return
	}
	p.EntryPrice = weightedAvg(p.EntryPrice, p.TotalUnits, price, units)
	if p.Rolls == 0 {
		p.OriginalEntryPrice = p.EntryPrice
	}
	p.TotalUnits += units
	p.PyramidCount++
	p.Fills = append(p.Fills, Fill{Date: date, Price: price, Units: units, N: n})

	candidate := StopFor(p.Side, price, n)
	if p.Side == SideShort {
		p.StopPrice = minDec(p.StopPrice, candidate)
	} else {
		p.StopPrice = maxDec(p.StopPrice, candidate)
	}
}

// Mark updates the last seen price used for mark-to-market.
func (p *Position) Mark(price decimal.Decimal) { p.LastPrice = price }

// PnLAt returns the dollar result of closing every unit of the current
// contract at price. Amounts carried from rolled contracts are not included.
func (p *Position) PnLAt(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(p.TotalUnits)).Mul(p.Multiplier)
}

// close snapshots the position into an immutable Trade.
func (p *Position) close(date time.Time, price decimal.Decimal, reason ExitReason, index int) Trade {
	p.Status = StatusClosed
	p.LastPrice = price

	pnl := p.CarriedPnL.Add(p.PnLAt(price))
	pct := decimal.Zero
	if basis := p.costBasis(); basis.Sign() != 0 {
		pct = pnl.Div(basis).Mul(hundred)
	}
	return Trade{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       p.Side,
		EntryDate:  p.EntryDate,
		EntryPrice: p.EntryPrice,
		ExitDate:   date,
		ExitPrice:  price,
		Units:      p.TotalUnits,
		Pyramids:   p.PyramidCount,
		PnL:        pnl,
		PnLPct:     pct,
		ExitReason: reason,
		DaysHeld:   index - p.entryIndex,
	}
}

// costBasis is the dollar value of the position at its current basis.
func (p *Position) costBasis() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(p.TotalUnits)).Mul(p.Multiplier)
}

func weightedAvg(p1 decimal.Decimal, q1 int64, p2 decimal.Decimal, q2 int64) decimal.Decimal {
	if q1+q2 == 0 {
		return decimal.Zero
	}
	a := p1.Mul(decimal.NewFromInt(q1))
	b := p2.Mul(decimal.NewFromInt(q2))
	return a.Add(b).Div(decimal.NewFromInt(q1 + q2))
}

// Trade is the immutable record of a closed position
type Trade struct {
	PositionID string          `json:"position_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	EntryDate  time.Time       `json:"entry_date"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitDate   time.Time       `json:"exit_date"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Units      int64           `json:"units"`
	Pyramids   int             `json:"pyramids"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
	ExitReason ExitReason      `json:"exit_reason"`
	DaysHeld   int             `json:"days_held"`
}
