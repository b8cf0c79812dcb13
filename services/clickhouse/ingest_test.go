package clickhouse

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

// fakeServer mimics the parts of the ClickHouse HTTP interface the pipeline
// uses.
type fakeServer struct {
	mu      sync.Mutex
	ledger  []string
	raw     []RawBar
	queries []string
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if user, pass, ok := r.BasicAuth(); !ok || user != "turtle" || pass != "secret" {
			http.Error(w, "auth", http.StatusUnauthorized)
			return
		}
		query := r.URL.Query().Get("query")
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("gzip: %v", err)
				return
			}
			body = gz
		}
		data, _ := io.ReadAll(body)

		switch {
		case strings.HasPrefix(query, "SELECT") && strings.Contains(query, TableIngestLedger):
			sha := r.URL.Query().Get("param_sha")
			for _, line := range f.ledger {
				if strings.Contains(line, sha) {
					io.WriteString(w, line+"\n")
				}
			}
		case strings.Contains(query, "INSERT INTO turtle."+TableIngestLedger):
			f.ledger = append(f.ledger, strings.TrimSpace(string(data)))
		case strings.Contains(query, "INSERT INTO turtle."+TableRawDailyBars):
			sc := bufio.NewScanner(strings.NewReader(string(data)))
			for sc.Scan() {
				var rb RawBar
				if err := json.Unmarshal(sc.Bytes(), &rb); err != nil {
					t.Errorf("row: %v", err)
				}
				f.raw = append(f.raw, rb)
			}
		case query == "":
			f.queries = append(f.queries, string(data))
		default:
			http.Error(w, "unexpected query "+query, http.StatusBadRequest)
		}
	}
}

func testCHConfig(url string) config.ClickHouseConfig {
	return config.ClickHouseConfig{
		HTTPURL:   url,
		Database:  "turtle",
		Username:  "turtle",
		Password:  "secret",
		BatchSize: 2,
	}
}

func sampleBars() []engine.Bar {
	d := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	var out []engine.Bar
	for i := 0; i < 3; i++ {
		px := decimal.NewFromInt(int64(100 + i))
		out = append(out, engine.Bar{
			Date: d.AddDate(0, 0, i), Open: px, High: px.Add(decimal.NewFromInt(1)),
			Low: px.Sub(decimal.NewFromInt(1)), Close: px, Volume: decimal.NewFromInt(10),
		})
	}
	return out
}

func TestStageFileIsIdempotent(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewIngestPipeline(testCHConfig(srv.URL), zap.NewNop())
	staged, err := p.StageFile(context.Background(), "GC", "abc123", "csv", sampleBars())
	if err != nil {
		t.Fatal(err)
	}
	if !staged || len(fake.raw) != 3 || len(fake.ledger) != 1 {
		t.Fatalf("staged=%v raw=%d ledger=%d", staged, len(fake.raw), len(fake.ledger))
	}
	if fake.raw[0].Date != "2024-03-04" || fake.raw[2].Close != "102" {
		t.Fatalf("raw rows = %+v", fake.raw)
	}

	staged, err = p.StageFile(context.Background(), "GC", "abc123", "csv", sampleBars())
	if err != nil {
		t.Fatal(err)
	}
	if staged || len(fake.raw) != 3 {
		t.Fatalf("second stage should skip: staged=%v raw=%d", staged, len(fake.raw))
	}
}

func TestCanonicalizeSendsQuery(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewIngestPipeline(testCHConfig(srv.URL), nil)
	if err := p.Canonicalize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fake.queries) != 1 || !strings.Contains(fake.queries[0], "INSERT INTO turtle.daily_bars") {
		t.Fatalf("queries = %v", fake.queries)
	}
}

func TestBatchClientReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Code: 60. Table does not exist", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewBatchClient(testCHConfig(srv.URL))
	if err := c.Add(context.Background(), RawBar{Instrument: "GC"}); err != nil {
		t.Fatal("first row should only buffer")
	}
	if err := c.Flush(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
	if c.Pending() != 1 {
		t.Fatal("failed flush must keep the buffer")
	}
}

func TestSchemaIsQualified(t *testing.T) {
	for _, stmt := range SchemaStatements("turtle")[1:] {
		if !strings.Contains(stmt, "turtle.") {
			t.Fatalf("unqualified statement: %s", stmt)
		}
	}
	q, args := barsQuery("turtle.daily_bars", "GC", time.Time{}, time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC))
	if !strings.Contains(q, "FINAL") || strings.Contains(q, "date >=") || len(args) != 2 {
		t.Fatalf("query=%s args=%v", q, args)
	}
}

func TestAuditQueriesCountCanonicalBars(t *testing.T) {
	qs := auditQueries("turtle.daily_bars")
	if len(qs) != 4 {
		t.Fatalf("queries = %d", len(qs))
	}
	for _, q := range qs {
		if !strings.HasPrefix(q.query, "SELECT count() FROM turtle.daily_bars FINAL") {
			t.Fatalf("%s: %s", q.name, q.query)
		}
	}
}
