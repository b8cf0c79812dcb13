package clickhouse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

// IngestPipeline stages raw daily bar files and canonicalizes them into the
// daily bar table. Each file is recorded in a ledger by content hash so
// re-running an ingest is a no-op.
type IngestPipeline struct {
	baseURL    string
	username   string
	password   string
	database   string
	client     *BatchClient
	httpClient *http.Client
	logger     *zap.Logger
}

type IngestLedger struct {
	Instrument string    `json:"instrument"`
	FileSHA    string    `json:"file_sha256"`
	RowCount   uint64    `json:"row_count,string"`
	Source     string    `json:"source"`
	InsertedAt time.Time `json:"-"`
}

func NewIngestPipeline(cfg config.ClickHouseConfig, logger *zap.Logger) *IngestPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestPipeline{
		baseURL:  cfg.HTTPURL,
		username: cfg.Username,
		password: cfg.Password,
		database: cfg.Database,
		client:   NewBatchClient(cfg),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// StageFile uploads one file's bars into the raw table. It returns false
// when the ledger already holds fileSHA for the instrument.
func (p *IngestPipeline) StageFile(ctx context.Context, instrument, fileSHA, source string, bars []engine.Bar) (bool, error) {
	ledger, err := p.checkIngestLedger(ctx, instrument, fileSHA)
	if err != nil {
		return false, fmt.Errorf("ledger check error: %w", err)
	}
	if ledger != nil {
		p.logger.Info("File already ingested, skipping",
			zap.String("instrument", instrument),
			zap.String("sha256", fileSHA))
		return false, nil
	}

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	for _, b := range bars {
		raw := RawBar{
			Instrument: instrument,
			Date:       engine.Day(b.Date).Format("2006-01-02"),
			Open:       decimalString(b.Open),
			High:       decimalString(b.High),
			Low:        decimalString(b.Low),
			Close:      decimalString(b.Close),
			Volume:     decimalString(b.Volume),
			FileSHA256: fileSHA,
			IngestedAt: now,
			Source:     source,
		}
		if err := p.client.Add(ctx, raw); err != nil {
			return false, fmt.Errorf("add bar error: %w", err)
		}
	}
	if err := p.client.Flush(ctx); err != nil {
		return false, fmt.Errorf("flush error: %w", err)
	}

	p.logger.Info("Staged file",
		zap.String("instrument", instrument),
		zap.String("sha256", fileSHA),
		zap.Int("rows", len(bars)))
	return true, p.recordIngestLedger(ctx, IngestLedger{
		Instrument: instrument,
		FileSHA:    fileSHA,
		RowCount:   uint64(len(bars)),
		Source:     source,
	})
}

// Canonicalize casts staged rows, drops those that fail the OHLC sanity
// checks and keeps the latest ingest of each instrument day.
func (p *IngestPipeline) Canonicalize(ctx context.Context) error {
	return p.executeQuery(ctx, canonicalizeQuery(p.database))
}

func canonicalizeQuery(database string) string {
	return fmt.Sprintf(`
		INSERT INTO %[1]s.%[2]s (instrument, date, open, high, low, close, volume, version, ingested_at)
		SELECT
			instrument,
			day,
			argMax(open_d, ingested_at),
			argMax(high_d, ingested_at),
			argMax(low_d, ingested_at),
			argMax(close_d, ingested_at),
			argMax(vol_d, ingested_at),
			toUInt64(now64()),
			now()
		FROM (
			SELECT
				instrument,
				toDateOrNull(date) AS day,
				toDecimal128OrNull(open, 10) AS open_d,
				toDecimal128OrNull(high, 10) AS high_d,
				toDecimal128OrNull(low, 10) AS low_d,
				toDecimal128OrNull(close, 10) AS close_d,
				ifNull(toDecimal128OrNull(volume, 10), toDecimal128(0, 10)) AS vol_d,
				ingested_at
			FROM %[1]s.%[3]s
		)
		WHERE
			day IS NOT NULL
			AND open_d IS NOT NULL
			AND high_d IS NOT NULL
			AND low_d IS NOT NULL
			AND close_d IS NOT NULL
			AND open_d >= 0 AND low_d >= 0 AND vol_d >= 0
			AND high_d >= greatest(open_d, close_d, low_d)
			AND low_d <= least(open_d, close_d, high_d)
		GROUP BY instrument, day
	`, database, TableDailyBars, TableRawDailyBars)
}

func (p *IngestPipeline) checkIngestLedger(ctx context.Context, instrument, fileSHA string) (*IngestLedger, error) {
	query := fmt.Sprintf(
		`SELECT instrument, file_sha256, row_count, source FROM %s.%s WHERE instrument = {inst:String} AND file_sha256 = {sha:String} LIMIT 1 FORMAT JSONEachRow`,
		p.database, TableIngestLedger)
	params := url.Values{}
	params.Set("query", query)
	params.Set("param_inst", instrument)
	params.Set("param_sha", fileSHA)

	body, err := p.do(ctx, http.MethodGet, params, "")
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var l IngestLedger
		if err := json.Unmarshal([]byte(line), &l); err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		return &l, nil
	}
	return nil, sc.Err()
}

func (p *IngestPipeline) recordIngestLedger(ctx context.Context, l IngestLedger) error {
	row, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal ledger row: %w", err)
	}
	params := url.Values{}
	params.Set("query", fmt.Sprintf("INSERT INTO %s.%s (instrument, file_sha256, row_count, source) FORMAT JSONEachRow", p.database, TableIngestLedger))
	_, err = p.do(ctx, http.MethodPost, params, string(row))
	return err
}

func (p *IngestPipeline) executeQuery(ctx context.Context, query string) error {
	_, err := p.do(ctx, http.MethodPost, nil, query)
	return err
}

// do sends one request to the HTTP interface. With nil params the body is
// the query.
func (p *IngestPipeline) do(ctx context.Context, method string, params url.Values, body string) (string, error) {
	endpoint := p.baseURL + "/"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request error: %w", err)
	}
	req.SetBasicAuth(p.username, p.password)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clickhouse error: %d %s", resp.StatusCode, string(out))
	}
	return string(out), nil
}
