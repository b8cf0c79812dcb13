package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrSizingSkip marks an entry or pyramid add that cannot be sized. It is an
// ordinary "no trade today" outcome and never aborts a run.
var ErrSizingSkip = errors.New("sizing skipped")

type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = SideLong
	case "short":
		*s = SideShort
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// maxUnits bounds a single sizing to what a unit count can hold.
var maxUnits = decimal.NewFromInt(math.MaxInt64)

// Sizer converts volatility into contract counts against a fixed dollar risk
// per trade. Every instrument is sized independently against the same
// RiskPerTrade.
type Sizer struct {
	AccountSize  decimal.Decimal
	RiskPercent  decimal.Decimal
	RiskPerTrade decimal.Decimal
}

func NewSizer(accountSize, riskPercent decimal.Decimal) Sizer {
	return Sizer{
		AccountSize:  accountSize,
		RiskPercent:  riskPercent,
		RiskPerTrade: accountSize.Mul(riskPercent).Div(hundred),
	}
}

// Sizing is the result of sizing one entry
type Sizing struct {
	Side        Side              `json:"side"`
	EntryPrice  decimal.Decimal   `json:"entry_price"`
	N           decimal.Decimal   `json:"n"`
	Multiplier  decimal.Decimal   `json:"multiplier"`
	Units       int64             `json:"units"`
	StopPrice   decimal.Decimal   `json:"stop_price"`
	Ladder      []decimal.Decimal `json:"ladder"`
	Notional    decimal.Decimal   `json:"notional"`
	RiskDollars decimal.Decimal   `json:"risk_dollars"`
	StopValue   decimal.Decimal   `json:"stop_value"`
}

// Units returns round(RiskPerTrade / (N * multiplier)), ties away from zero.
func (s Sizer) Units(n, multiplier decimal.Decimal) (int64, error) {
	if n.Sign() <= 0 {
		return 0, fmt.Errorf("%w: N=%s", ErrSizingSkip, n)
	}
	if multiplier.Sign() <= 0 {
		return 0, fmt.Errorf("%w: multiplier=%s", ErrSizingSkip, multiplier)
	}
	units := s.RiskPerTrade.Div(n.Mul(multiplier)).Round(0)
	if units.Sign() <= 0 {
		return 0, fmt.Errorf("%w: zero units for N=%s multiplier=%s", ErrSizingSkip, n, multiplier)
	}
	if units.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%w: %s units overflow for N=%s multiplier=%s", ErrSizingSkip, units, n, multiplier)
	}
	return units.IntPart(), nil
}

// Size computes units, the initial 2N stop and the pyramid trigger ladder.
func (s Sizer) Size(side Side, entryPrice, n, multiplier decimal.Decimal, maxPyramids int) (Sizing, error) {
	if entryPrice.Sign() <= 0 {
		return Sizing{}, fmt.Errorf("%w: entry price=%s", ErrSizingSkip, entryPrice)
	}
	units, err := s.Units(n, multiplier)
	if err != nil {
		return Sizing{}, err
	}

	stop := StopFor(side, entryPrice, n)
	qty := decimal.NewFromInt(units)
	return Sizing{
		Side:        side,
		EntryPrice:  entryPrice,
		N:           n,
		Multiplier:  multiplier,
		Units:       units,
		StopPrice:   stop,
		Ladder:      PyramidLadder(side, entryPrice, n, maxPyramids),
		Notional:    entryPrice.Mul(multiplier).Mul(qty),
		RiskDollars: s.RiskPerTrade,
		StopValue:   stop.Sub(entryPrice).Abs().Mul(multiplier).Mul(qty),
	}, nil
}

// StopFor places the stop 2N against the position.
func StopFor(side Side, price, n decimal.Decimal) decimal.Decimal {
	if side == SideShort {
		return price.Add(two.Mul(n))
	}
	return price.Sub(two.Mul(n))
}

// PyramidLadder returns trigger prices for levels 1..maxPyramids-1, spaced
// one N apart from the entry price.
func PyramidLadder(side Side, entryPrice, n decimal.Decimal, maxPyramids int) []decimal.Decimal {
	if maxPyramids <= 1 {
		return nil
	}
	ladder := make([]decimal.Decimal, 0, maxPyramids-1)
	for k := 1; k < maxPyramids; k++ {
		step := n.Mul(decimal.NewFromInt(int64(k)))
		if side == SideShort {
			ladder = append(ladder, entryPrice.Sub(step))
		} else {
			ladder = append(ladder, entryPrice.Add(step))
		}
	}
	return ladder
}
