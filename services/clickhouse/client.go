// Package clickhouse stores daily bars and backtest results in ClickHouse.
// Reads and result writes use the native protocol; bulk staging of raw files
// goes over the HTTP interface.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

// Store wraps a native ClickHouse connection
type Store struct {
	conn     driver.Conn
	database string
	logger   *zap.Logger
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}
	logger.Info("Connected to ClickHouse", zap.Strings("addr", cfg.Addr), zap.String("database", cfg.Database))
	return &Store{conn: conn, database: cfg.Database, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) table(name string) string {
	return s.database + "." + name
}

// EnsureSchema creates the database and tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements(s.database) {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Instruments lists every instrument with canonical bars.
func (s *Store) Instruments(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT DISTINCT instrument FROM %s ORDER BY instrument`, s.table(TableDailyBars)))
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// LoadBars reads one instrument's bars in date order. A zero from or to
// leaves that side of the range open.
func (s *Store) LoadBars(ctx context.Context, instrument string, from, to time.Time) ([]engine.Bar, error) {
	query, args := barsQuery(s.table(TableDailyBars), instrument, from, to)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", instrument, err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var b engine.Bar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar %s: %w", instrument, err)
		}
		b.Date = engine.Day(b.Date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("Loaded bars", zap.String("instrument", instrument), zap.Int("bars", len(bars)))
	return bars, nil
}

// LoadSeries loads every listed instrument, or all of them when none are
// given.
func (s *Store) LoadSeries(ctx context.Context, instruments []string, from, to time.Time) (engine.Series, error) {
	if len(instruments) == 0 {
		var err error
		if instruments, err = s.Instruments(ctx); err != nil {
			return nil, err
		}
	}
	series := make(engine.Series, len(instruments))
	for _, inst := range instruments {
		bars, err := s.LoadBars(ctx, inst, from, to)
		if err != nil {
			return nil, err
		}
		series[inst] = bars
	}
	return series, nil
}

func barsQuery(table, instrument string, from, to time.Time) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT date, open, high, low, close, volume FROM %s FINAL WHERE instrument = ?`, table)
	args := []any{instrument}
	if !from.IsZero() {
		sb.WriteString(` AND date >= ?`)
		args = append(args, engine.Day(from))
	}
	if !to.IsZero() {
		sb.WriteString(` AND date <= ?`)
		args = append(args, engine.Day(to))
	}
	sb.WriteString(` ORDER BY date`)
	return sb.String(), args
}

// InsertBars writes canonical bars directly, bypassing raw staging.
func (s *Store) InsertBars(ctx context.Context, instrument string, bars []engine.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (instrument, date, open, high, low, close, volume, version)`, s.table(TableDailyBars)))
	if err != nil {
		return fmt.Errorf("prepare bars batch: %w", err)
	}
	version := uint64(time.Now().UnixNano())
	for _, b := range bars {
		if err := batch.Append(instrument, engine.Day(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume, version); err != nil {
			return fmt.Errorf("append bar: %w", err)
		}
	}
	return batch.Send()
}

// SaveResult persists the run header, the trade ledger and the equity curve.
func (s *Store) SaveResult(ctx context.Context, res *engine.Result) error {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	m := res.Manifest
	if err := s.conn.Exec(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table(TableRuns)),
		res.RunID, m.ConfigSnapshot.ConfigHash, m.ConfigSnapshot.DataChecksum, m.ConfigSnapshot.EngineVersion,
		m.FirstDate, m.LastDate, uint32(res.Summary.TotalTrades), res.Summary.GrossPnL,
		res.Summary.FinalEquity, res.Summary.MaxDrawdownPct, string(summary), m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(res.Trades) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s`, s.table(TableTrades)))
		if err != nil {
			return fmt.Errorf("prepare trades batch: %w", err)
		}
		for _, t := range res.Trades {
			if err := batch.Append(res.RunID, t.PositionID, t.Instrument, t.EntryDate, t.EntryPrice,
				t.ExitDate, t.ExitPrice, t.Units, uint8(t.Pyramids), t.PnL, t.PnLPct,
				string(t.ExitReason), uint32(t.DaysHeld)); err != nil {
				return fmt.Errorf("append trade: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send trades: %w", err)
		}
	}

	if len(res.EquityCurve) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s`, s.table(TableEquity)))
		if err != nil {
			return fmt.Errorf("prepare equity batch: %w", err)
		}
		for _, p := range res.EquityCurve {
			if err := batch.Append(res.RunID, p.Date, p.Equity, p.OpenPnL); err != nil {
				return fmt.Errorf("append equity: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send equity: %w", err)
		}
	}

	s.logger.Info("Saved backtest result",
		zap.String("run_id", res.RunID),
		zap.Int("trades", len(res.Trades)),
		zap.Int("equity_points", len(res.EquityCurve)))
	return nil
}

// RunSummary reads back a stored run's summary.
func (s *Store) RunSummary(ctx context.Context, runID string) (*engine.Summary, error) {
	var raw string
	err := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT summary_json FROM %s WHERE run_id = ? LIMIT 1`, s.table(TableRuns)), runID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	var sum engine.Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}

// decimalString formats values for the HTTP interface, which parses decimals
// from their text form.
func decimalString(d decimal.Decimal) string { return d.String() }
