// Package arrowpipeline exports bars, signals and trades as Arrow IPC streams
// for columnar analysis tools.
package arrowpipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"turtle-backtest/services/engine"
)

var (
	BarSchema = arrow.NewSchema([]arrow.Field{
		{Name: "instrument", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	SignalSchema = arrow.NewSchema([]arrow.Field{
		{Name: "instrument", Type: arrow.BinaryTypes.String},
		{Name: "date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "n", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "high_short", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "high_long", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "low_exit", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "entry_short", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "entry_long", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "exit_long", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)

	TradeSchema = arrow.NewSchema([]arrow.Field{
		{Name: "position_id", Type: arrow.BinaryTypes.String},
		{Name: "instrument", Type: arrow.BinaryTypes.String},
		{Name: "entry_date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exit_date", Type: arrow.FixedWidthTypes.Date32},
		{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "units", Type: arrow.PrimitiveTypes.Int64},
		{Name: "pyramids", Type: arrow.PrimitiveTypes.Int32},
		{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "pnl_pct", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exit_reason", Type: arrow.BinaryTypes.String},
		{Name: "days_held", Type: arrow.PrimitiveTypes.Int32},
	}, nil)
)

// Pipeline builds records from a shared allocator
type Pipeline struct {
	memoryPool memory.Allocator
	logger     *zap.Logger
	mu         sync.Mutex
}

func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

func f64(d decimal.Decimal) float64 { return d.InexactFloat64() }

func appendNullable(b *array.Float64Builder, d decimal.NullDecimal) {
	if !d.Valid {
		b.AppendNull()
		return
	}
	b.Append(f64(d.Decimal))
}

// BarsRecord builds one record holding every bar of series, instruments in
// sorted order. The caller releases it.
func (p *Pipeline) BarsRecord(series engine.Series) arrow.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := array.NewRecordBuilder(p.memoryPool, BarSchema)
	defer b.Release()

	for _, inst := range series.Instruments() {
		for _, bar := range series[inst] {
			b.Field(0).(*array.StringBuilder).Append(inst)
			b.Field(1).(*array.Date32Builder).Append(arrow.Date32FromTime(engine.Day(bar.Date)))
			b.Field(2).(*array.Float64Builder).Append(f64(bar.Open))
			b.Field(3).(*array.Float64Builder).Append(f64(bar.High))
			b.Field(4).(*array.Float64Builder).Append(f64(bar.Low))
			b.Field(5).(*array.Float64Builder).Append(f64(bar.Close))
			b.Field(6).(*array.Float64Builder).Append(f64(bar.Volume))
		}
	}
	return b.NewRecord()
}

// SignalsRecord flattens per-instrument signal rows. Undefined rolling values
// become nulls.
func (p *Pipeline) SignalsRecord(signals map[string][]engine.SignalRow) arrow.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := array.NewRecordBuilder(p.memoryPool, SignalSchema)
	defer b.Release()

	for _, inst := range sortedKeys(signals) {
		for _, row := range signals[inst] {
			b.Field(0).(*array.StringBuilder).Append(inst)
			b.Field(1).(*array.Date32Builder).Append(arrow.Date32FromTime(engine.Day(row.Date)))
			b.Field(2).(*array.Float64Builder).Append(f64(row.Close))
			appendNullable(b.Field(3).(*array.Float64Builder), row.N)
			appendNullable(b.Field(4).(*array.Float64Builder), row.HighShort)
			appendNullable(b.Field(5).(*array.Float64Builder), row.HighLong)
			appendNullable(b.Field(6).(*array.Float64Builder), row.LowExit)
			b.Field(7).(*array.BooleanBuilder).Append(row.EntryShort)
			b.Field(8).(*array.BooleanBuilder).Append(row.EntryLong)
			b.Field(9).(*array.BooleanBuilder).Append(row.ExitLong)
		}
	}
	return b.NewRecord()
}

func (p *Pipeline) TradesRecord(trades []engine.Trade) arrow.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := array.NewRecordBuilder(p.memoryPool, TradeSchema)
	defer b.Release()

	for _, t := range trades {
		b.Field(0).(*array.StringBuilder).Append(t.PositionID)
		b.Field(1).(*array.StringBuilder).Append(t.Instrument)
		b.Field(2).(*array.Date32Builder).Append(arrow.Date32FromTime(engine.Day(t.EntryDate)))
		b.Field(3).(*array.Float64Builder).Append(f64(t.EntryPrice))
		b.Field(4).(*array.Date32Builder).Append(arrow.Date32FromTime(engine.Day(t.ExitDate)))
		b.Field(5).(*array.Float64Builder).Append(f64(t.ExitPrice))
		b.Field(6).(*array.Int64Builder).Append(t.Units)
		b.Field(7).(*array.Int32Builder).Append(int32(t.Pyramids))
		b.Field(8).(*array.Float64Builder).Append(f64(t.PnL))
		b.Field(9).(*array.Float64Builder).Append(f64(t.PnLPct))
		b.Field(10).(*array.StringBuilder).Append(string(t.ExitReason))
		b.Field(11).(*array.Int32Builder).Append(int32(t.DaysHeld))
	}
	return b.NewRecord()
}

// WriteRecord serializes rec as an Arrow IPC stream and releases it.
func (p *Pipeline) WriteRecord(w io.Writer, rec arrow.Record) error {
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(p.memoryPool))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	p.logger.Debug("Wrote Arrow record",
		zap.Int64("rows", rec.NumRows()),
		zap.Int("columns", int(rec.NumCols())))
	return nil
}

// ReadBars decodes a stream written from BarsRecord back into a series.
// Prices pass through float64, so decimals with more than fifteen
// significant digits do not survive the trip.
func (p *Pipeline) ReadBars(r io.Reader) (engine.Series, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool), ipc.WithSchema(BarSchema))
	if err != nil {
		return nil, fmt.Errorf("open Arrow stream: %w", err)
	}
	defer reader.Release()

	series := engine.Series{}
	for reader.Next() {
		rec := reader.Record()
		inst := rec.Column(0).(*array.String)
		dates := rec.Column(1).(*array.Date32)
		cols := make([]*array.Float64, 5)
		for i := range cols {
			cols[i] = rec.Column(i + 2).(*array.Float64)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			name := inst.Value(i)
			series[name] = append(series[name], engine.Bar{
				Date:   dates.Value(i).ToTime(),
				Open:   decimal.NewFromFloat(cols[0].Value(i)),
				High:   decimal.NewFromFloat(cols[1].Value(i)),
				Low:    decimal.NewFromFloat(cols[2].Value(i)),
				Close:  decimal.NewFromFloat(cols[3].Value(i)),
				Volume: decimal.NewFromFloat(cols[4].Value(i)),
			})
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read Arrow stream: %w", err)
	}
	return series, nil
}

func sortedKeys(m map[string][]engine.SignalRow) []string {
	s := make(engine.Series, len(m))
	for k := range m {
		s[k] = nil
	}
	return s.Instruments()
}
