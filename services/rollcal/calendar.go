// Package rollcal estimates futures expirations and turns a back-month price
// series into the roll events the engine consumes.
package rollcal

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"turtle-backtest/services/engine"
)

// DefaultDaysBefore is how close to the estimated last trading day a roll
// is triggered.
const DefaultDaysBefore = 14

// Contract is one listed delivery month
type Contract struct {
	Year  int
	Month int
}

// LastTradingDay estimates expiry as three calendar days before the end of
// the delivery month. Exchange calendars differ per product.
func (c Contract) LastTradingDay() time.Time {
	firstOfNext := time.Date(c.Year, time.Month(c.Month)+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -3)
}

type Calendar struct {
	DaysBefore int
	Specs      map[string]engine.InstrumentSpec
	logger     *zap.Logger
}

func New(daysBefore int, specs map[string]engine.InstrumentSpec, logger *zap.Logger) *Calendar {
	if daysBefore <= 0 {
		daysBefore = DefaultDaysBefore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calendar{DaysBefore: daysBefore, Specs: specs, logger: logger}
}

// Next returns the following listed contract, wrapping into the next year.
func (cal *Calendar) Next(instrument string, c Contract) Contract {
	spec := cal.Specs[instrument]
	m := spec.NextContractMonth(c.Month)
	if m <= c.Month {
		return Contract{Year: c.Year + 1, Month: m}
	}
	return Contract{Year: c.Year, Month: m}
}

// RollCheck is the roll decision for one contract on one day
type RollCheck struct {
	ShouldRoll       bool
	DaysToExpiration int
	Expiration       time.Time
	Next             Contract
}

// Check reports whether c is inside its roll window on date.
func (cal *Calendar) Check(date time.Time, instrument string, c Contract) RollCheck {
	exp := c.LastTradingDay()
	days := int(exp.Sub(engine.Day(date)).Hours() / 24)
	return RollCheck{
		ShouldRoll:       days <= cal.DaysBefore,
		DaysToExpiration: days,
		Expiration:       exp,
		Next:             cal.Next(instrument, c),
	}
}

// FrontContract is the first listed contract on date that is not already
// inside its roll window.
func (cal *Calendar) FrontContract(instrument string, date time.Time) Contract {
	d := engine.Day(date)
	c := Contract{Year: d.Year(), Month: int(d.Month())}
	spec := cal.Specs[instrument]
	if m := spec.NextContractMonth(c.Month - 1); m >= c.Month {
		c.Month = m
	} else {
		c = Contract{Year: c.Year + 1, Month: m}
	}
	for i := 0; i < 24 && cal.Check(d, instrument, c).ShouldRoll; i++ {
		c = cal.Next(instrument, c)
	}
	return c
}

// Schedule walks the front-month bars and emits a roll each time the held
// contract enters its roll window. The roll price is the replacement
// contract's close that day; a day without one defers the roll to the next
// day that has one.
func (cal *Calendar) Schedule(instrument string, front, replacement []engine.Bar) []engine.RollEvent {
	if len(front) == 0 {
		return nil
	}
	prices := make(map[time.Time]decimal.Decimal, len(replacement))
	for _, b := range replacement {
		prices[engine.Day(b.Date)] = b.Close
	}

	cur := cal.FrontContract(instrument, front[0].Date)
	var events []engine.RollEvent
	for _, b := range front {
		d := engine.Day(b.Date)
		chk := cal.Check(d, instrument, cur)
		if !chk.ShouldRoll {
			continue
		}
		px, ok := prices[d]
		if !ok {
			cal.logger.Debug("No replacement price, deferring roll",
				zap.String("instrument", instrument),
				zap.Time("date", d))
			continue
		}
		events = append(events, engine.RollEvent{
			Instrument:    instrument,
			Date:          d,
			Price:         px,
			ContractMonth: chk.Next.Month,
		})
		cur = chk.Next
		// a listing gap shorter than the window would roll again at once
		for cal.Check(d, instrument, cur).ShouldRoll {
			cur = cal.Next(instrument, cur)
		}
	}
	cal.logger.Info("Built roll schedule",
		zap.String("instrument", instrument),
		zap.Int("rolls", len(events)))
	return events
}
