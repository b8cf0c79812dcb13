// Package csvfeed reads daily bars and roll schedules from CSV files and
// writes trade ledgers and equity curves back out.
package csvfeed

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"turtle-backtest/services/engine"
)

// ErrNoBars is returned when a file holds no parsable rows.
var ErrNoBars = errors.New("no input bars parsed")

// decodeReader strips a UTF-8 BOM and transcodes UTF-16 input.
func decodeReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	b, _ := br.Peek(3)
	switch {
	case len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE:
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	case len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF:
		return transform.NewReader(br, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder())
	case len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		br.Discard(3)
	}
	return br
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(decodeReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	return cr
}

// columns maps field names to record positions
type columns map[string]int

var barAliases = map[string]string{
	"date": "date", "day": "date", "timestamp": "date", "timestamp_ms": "date", "time": "date",
	"open": "open", "o": "open",
	"high": "high", "h": "high",
	"low": "low", "l": "low",
	"close": "close", "c": "close", "settle": "close", "adj close": "close",
	"volume": "volume", "v": "volume", "vol": "volume",
}

func headerColumns(rec []string, aliases map[string]string) (columns, bool) {
	cols := columns{}
	for i, f := range rec {
		if name, ok := aliases[strings.ToLower(strings.TrimSpace(f))]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	return cols, len(cols) > 0
}

func (c columns) get(rec []string, name string) (string, bool) {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(rec[i], `"`)), true
}

// ParseDate accepts YYYY-MM-DD, YYYY/MM/DD, YYYYMMDD, RFC 3339 and unix
// milliseconds. The result
// is truncated to the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return engine.Day(t), nil
	}
	if t, err := time.Parse("2006/01/02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("20060102", s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) >= 10 {
		return engine.Day(time.UnixMilli(ms)), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ReadBars parses date,open,high,low,close[,volume] rows. A header row, when
// present, may name the columns in any order. Rows are returned in date
// order; duplicate dates are left for validation to report.
func ReadBars(r io.Reader) ([]engine.Bar, error) {
	cr := newReader(r)
	cols := columns{"date": 0, "open": 1, "high": 2, "low": 3, "close": 4, "volume": 5}

	var bars []engine.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 {
			if _, err := ParseDate(rec[0]); err != nil {
				hc, ok := headerColumns(rec, barAliases)
				if !ok {
					return nil, fmt.Errorf("line 1: not a header or bar: %w", err)
				}
				cols = hc
				continue
			}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		bar, err := parseBar(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func parseBar(rec []string, cols columns) (engine.Bar, error) {
	var b engine.Bar
	ds, ok := cols.get(rec, "date")
	if !ok {
		return b, errors.New("missing date")
	}
	d, err := ParseDate(ds)
	if err != nil {
		return b, err
	}
	b.Date = d

	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}} {
		s, ok := cols.get(rec, f.name)
		if !ok || s == "" {
			return b, fmt.Errorf("missing %s", f.name)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return b, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	if s, ok := cols.get(rec, "volume"); ok && s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return b, fmt.Errorf("volume: %w", err)
		}
		b.Volume = v
	}
	return b, nil
}

// LoadBarsFile reads one file and returns its bars with the SHA-256 of the
// raw bytes.
func LoadBarsFile(path string) ([]engine.Bar, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	h := sha256.New()
	bars, err := ReadBars(io.TeeReader(f, h))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	// drain anything the csv reader left buffered so the digest covers the file
	if _, err := io.Copy(h, f); err != nil {
		return nil, "", err
	}
	return bars, hex.EncodeToString(h.Sum(nil)), nil
}

// InstrumentName derives the instrument from a file name: gc.csv is GC.
func InstrumentName(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadDir loads every *.csv in dir. When instruments is non-empty only those
// are read and each must exist.
func LoadDir(dir string, instruments []string) (engine.Series, map[string]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]string, len(files))
	for _, f := range files {
		byName[InstrumentName(f)] = f
	}
	if len(instruments) == 0 {
		for name := range byName {
			instruments = append(instruments, name)
		}
	}

	series := make(engine.Series, len(instruments))
	digests := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		path, ok := byName[strings.ToUpper(inst)]
		if !ok {
			return nil, nil, fmt.Errorf("no csv for instrument %s in %s", inst, dir)
		}
		bars, sum, err := LoadBarsFile(path)
		if err != nil {
			return nil, nil, err
		}
		series[strings.ToUpper(inst)] = bars
		digests[strings.ToUpper(inst)] = sum
	}
	return series, digests, nil
}

var rollAliases = map[string]string{
	"instrument": "instrument", "symbol": "instrument", "commodity": "instrument",
	"date": "date", "roll_date": "date",
	"price": "price", "new_price": "price", "roll_price": "price",
	"contract_month": "contract_month", "month": "contract_month",
}

// ReadRolls parses instrument,date,price[,contract_month] rows.
func ReadRolls(r io.Reader) ([]engine.RollEvent, error) {
	cr := newReader(r)
	cols := columns{"instrument": 0, "date": 1, "price": 2, "contract_month": 3}

	var out []engine.RollEvent
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && len(rec) > 1 {
			if _, err := ParseDate(rec[1]); err != nil {
				if hc, ok := headerColumns(rec, rollAliases); ok {
					cols = hc
					continue
				}
			}
		}
		inst, _ := cols.get(rec, "instrument")
		ds, _ := cols.get(rec, "date")
		ps, _ := cols.get(rec, "price")
		if inst == "" {
			return nil, fmt.Errorf("line %d: missing instrument", line)
		}
		d, err := ParseDate(ds)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		price, err := decimal.NewFromString(ps)
		if err != nil {
			return nil, fmt.Errorf("line %d: price: %w", line, err)
		}
		ev := engine.RollEvent{Instrument: strings.ToUpper(inst), Date: d, Price: price}
		if ms, ok := cols.get(rec, "contract_month"); ok && ms != "" {
			if ev.ContractMonth, err = strconv.Atoi(ms); err != nil {
				return nil, fmt.Errorf("line %d: contract month: %w", line, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func LoadRolls(path string) ([]engine.RollEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRolls(f)
}

func WriteTrades(w io.Writer, trades []engine.Trade) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{
		"position_id", "instrument", "side", "entry_date", "entry_price", "exit_date", "exit_price",
		"units", "pyramids", "pnl", "pnl_pct", "exit_reason", "days_held",
	})
	for _, t := range trades {
		cw.Write([]string{
			t.PositionID,
			t.Instrument,
			t.Side.String(),
			t.EntryDate.Format("2006-01-02"),
			t.EntryPrice.String(),
			t.ExitDate.Format("2006-01-02"),
			t.ExitPrice.String(),
			strconv.FormatInt(t.Units, 10),
			strconv.Itoa(t.Pyramids),
			t.PnL.StringFixed(2),
			t.PnLPct.StringFixed(2),
			string(t.ExitReason),
			strconv.Itoa(t.DaysHeld),
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteEquity(w io.Writer, points []engine.EquityPoint) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "equity", "open_pnl"})
	for _, p := range points {
		cw.Write([]string{p.Date.Format("2006-01-02"), p.Equity.StringFixed(2), p.OpenPnL.StringFixed(2)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteBars writes bars in the layout ReadBars expects.
func WriteBars(w io.Writer, bars []engine.Bar) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "open", "high", "low", "close", "volume"})
	for _, b := range bars {
		cw.Write([]string{
			b.Date.Format("2006-01-02"), b.Open.String(), b.High.String(),
			b.Low.String(), b.Close.String(), b.Volume.String(),
		})
	}
	cw.Flush()
	return cw.Error()
}
