package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Position lifecycle: stop, exit, pyramid and entry checks per bar

var positionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("turtle-backtest/position"))

// DayInput is one instrument's bar and signal row for one simulated day
type DayInput struct {
	Instrument string
	Index      int
	Bar        Bar
	Signal     SignalRow
	Multiplier decimal.Decimal
	// LastBar is set on the instrument's final bar, where no entry is taken.
	LastBar bool
}

// Lifecycle owns every Position of a run. Callers refer to positions by ID
// and never mutate them.
type Lifecycle struct {
	sizer       Sizer
	maxPyramids int
	system      EntrySystem
	log         *EventLog
	logger      *zap.Logger

	positions map[string]*Position
	open      map[string]string
	seq       map[string]int
}

func NewLifecycle(sizer Sizer, maxPyramids int, system EntrySystem, log *EventLog, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if log == nil {
		log = &EventLog{}
	}
	return &Lifecycle{
		sizer:       sizer,
		maxPyramids: maxPyramids,
		system:      system,
		log:         log,
		logger:      logger,
		positions:   make(map[string]*Position),
		open:        make(map[string]string),
		seq:         make(map[string]int),
	}
}

// Get returns the position with the given ID, open or closed.
func (l *Lifecycle) Get(id string) (*Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// OpenID returns the ID of the instrument's open position.
func (l *Lifecycle) OpenID(instrument string) (string, bool) {
	id, ok := l.open[instrument]
	return id, ok
}

// OpenPositions returns open positions ordered by instrument.
func (l *Lifecycle) OpenPositions() []*Position {
	names := make([]string, 0, len(l.open))
	for inst := range l.open {
		names = append(names, inst)
	}
	sort.Strings(names)
	out := make([]*Position, 0, len(names))
	for _, inst := range names {
		out = append(out, l.positions[l.open[inst]])
	}
	return out
}

// Step runs StopCheck, ExitCheck, PyramidCheck and EntryCheck in that order.
// It returns the trade closed on this bar, if any.
func (l *Lifecycle) Step(in DayInput) *Trade {
	var closed *Trade

	if id, ok := l.open[in.Instrument]; ok {
		pos := l.positions[id]
		pos.Mark(in.Bar.Close)
		switch {
		case pos.StopBreached(in.Bar):
			t := l.closePosition(pos, in.Bar.Date, pos.StopPrice, ExitStopHit, in.Index)
			closed = &t
		case in.Signal.ExitLong && pos.Side == SideLong:
			t := l.closePosition(pos, in.Bar.Date, in.Bar.Close, ExitSignal, in.Index)
			closed = &t
		default:
			l.checkPyramid(pos, in)
		}
	}

	if _, ok := l.open[in.Instrument]; !ok && !in.LastBar {
		l.checkEntry(in)
	}
	return closed
}

func (l *Lifecycle) checkPyramid(pos *Position, in DayInput) {
	trigger, crossed := pos.TriggerCrossed(in.Bar)
	if !crossed {
		return
	}
	if !in.Signal.HasN() {
		l.skip(in, "pyramid", fmt.Errorf("%w: N undefined", ErrSizingSkip))
		return
	}
	n := in.Signal.N.Decimal
	units, err := l.sizer.Units(n, in.Multiplier)
	if err != nil {
		l.skip(in, "pyramid", err)
		return
	}
	pos.AddUnits(in.Bar.Date, trigger, units, n)
	l.log.Append(Event{
		Date:       in.Bar.Date,
		Type:       EventPyramid,
		Instrument: in.Instrument,
		PositionID: pos.ID,
		Details: map[string]string{
			"price":       trigger.String(),
			"units":       fmt.Sprint(units),
			"total_units": fmt.Sprint(pos.TotalUnits),
			"stop":        pos.StopPrice.String(),
		},
	})
}

func (l *Lifecycle) checkEntry(in DayInput) {
	if !l.system.Triggered(in.Signal) {
		return
	}
	if !in.Signal.HasN() {
		l.skip(in, "entry", fmt.Errorf("%w: N undefined", ErrSizingSkip))
		return
	}
	sz, err := l.sizer.Size(SideLong, in.Bar.Close, in.Signal.N.Decimal, in.Multiplier, l.maxPyramids)
	if err != nil {
		l.skip(in, "entry", err)
		return
	}

	l.seq[in.Instrument]++
	id := uuid.NewSHA1(positionNamespace, []byte(fmt.Sprintf("%s#%d", in.Instrument, l.seq[in.Instrument]))).String()
	pos := newPosition(id, in.Instrument, in.Bar.Date, in.Index, l.maxPyramids, sz)
	l.positions[id] = pos
	l.open[in.Instrument] = id

	l.log.Append(Event{
		Date:       in.Bar.Date,
		Type:       EventEntry,
		Instrument: in.Instrument,
		PositionID: id,
		Details: map[string]string{
			"price": sz.EntryPrice.String(),
			"units": fmt.Sprint(sz.Units),
			"n":     sz.N.String(),
			"stop":  sz.StopPrice.String(),
		},
	})
	l.logger.Debug("Position opened",
		zap.String("instrument", in.Instrument),
		zap.String("position_id", id),
		zap.Time("date", in.Bar.Date),
		zap.String("price", sz.EntryPrice.String()),
		zap.Int64("units", sz.Units),
	)
}

// ForceClose closes the instrument's open position at the bar's close with
// reason EndOfData.
func (l *Lifecycle) ForceClose(instrument string, index int, bar Bar) (Trade, bool) {
	id, ok := l.open[instrument]
	if !ok {
		return Trade{}, false
	}
	return l.closePosition(l.positions[id], bar.Date, bar.Close, ExitEndOfData, index), true
}

// Roll applies a roll event. Without an open position it is a no-op.
func (l *Lifecycle) Roll(ev RollEvent) (RollAdjustment, bool) {
	id, ok := l.open[ev.Instrument]
	if !ok {
		l.log.Append(Event{Date: ev.Date, Type: EventRollNoOp, Instrument: ev.Instrument})
		l.logger.Debug("Roll ignored, no open position", zap.String("instrument", ev.Instrument), zap.Time("date", ev.Date))
		return RollAdjustment{}, false
	}
	adj := l.positions[id].roll(ev)
	l.log.Append(Event{
		Date:       ev.Date,
		Type:       EventRoll,
		Instrument: ev.Instrument,
		PositionID: id,
		Details: map[string]string{
			"old_basis": adj.OldBasis.String(),
			"new_basis": adj.NewBasis.String(),
			"new_stop":  adj.NewStop.String(),
		},
	})
	return adj, true
}

func (l *Lifecycle) closePosition(pos *Position, date time.Time, price decimal.Decimal, reason ExitReason, index int) Trade {
	t := pos.close(date, price, reason, index)
	delete(l.open, pos.Instrument)

	typ := EventExitSignal
	switch reason {
	case ExitStopHit:
		typ = EventStopHit
	case ExitEndOfData:
		typ = EventEndOfData
	}
	l.log.Append(Event{
		Date:       date,
		Type:       typ,
		Instrument: pos.Instrument,
		PositionID: pos.ID,
		Details: map[string]string{
			"price": price.String(),
			"pnl":   t.PnL.String(),
		},
	})
	return t
}

func (l *Lifecycle) skip(in DayInput, stage string, err error) {
	if !errors.Is(err, ErrSizingSkip) {
		return
	}
	l.log.Append(Event{
		Date:       in.Bar.Date,
		Type:       EventSizingSkip,
		Instrument: in.Instrument,
		Details:    map[string]string{"stage": stage, "reason": err.Error()},
	})
	l.logger.Debug("Sizing skipped",
		zap.String("instrument", in.Instrument),
		zap.String("stage", stage),
		zap.Time("date", in.Bar.Date),
		zap.Error(err),
	)
}
