package clickhouse

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"turtle-backtest/services/config"
)

// BatchClient handles ClickHouse HTTP batch inserts with compression
type BatchClient struct {
	baseURL    string
	username   string
	password   string
	table      string
	httpClient *http.Client
	buffer     []RawBar
	batchSize  int
}

// RawBar is one staged row. Values stay as text until canonicalization casts
// them, so malformed input is filtered in ClickHouse rather than rejected
// during the upload.
type RawBar struct {
	Instrument string `json:"instrument"`
	Date       string `json:"date"`
	Open       string `json:"open"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Close      string `json:"close"`
	Volume     string `json:"volume"`
	FileSHA256 string `json:"file_sha256"`
	IngestedAt string `json:"ingested_at"`
	Source     string `json:"source"`
}

func NewBatchClient(cfg config.ClickHouseConfig) *BatchClient {
	size := cfg.BatchSize
	if size <= 0 {
		size = 10000
	}
	return &BatchClient{
		baseURL:   cfg.HTTPURL,
		username:  cfg.Username,
		password:  cfg.Password,
		table:     cfg.Database + "." + TableRawDailyBars,
		batchSize: size,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer: make([]RawBar, 0, size),
	}
}

func (c *BatchClient) Add(ctx context.Context, bar RawBar) error {
	c.buffer = append(c.buffer, bar)
	if len(c.buffer) >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Pending reports how many rows are buffered.
func (c *BatchClient) Pending() int { return len(c.buffer) }

func (c *BatchClient) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	// JSONEachRow: one object per line
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gzWriter)
	for _, bar := range c.buffer {
		if err := enc.Encode(bar); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("gzip error: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", c.table)
	settings := "input_format_null_as_default=1&date_time_input_format=best_effort"
	endpoint := fmt.Sprintf("%s/?query=%s&%s", c.baseURL, url.QueryEscape(query), settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "gzip")
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("X-ClickHouse-Settings", "input_format_allow_errors_num=0,insert_deduplicate=1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, string(body))
	}

	c.buffer = c.buffer[:0]
	return nil
}

func (c *BatchClient) Close(ctx context.Context) error {
	return c.Flush(ctx)
}
