package clickhouse

import "fmt"

// Table names inside the configured database
const (
	TableDailyBars     = "daily_bars"
	TableRawDailyBars  = "raw_daily_bars"
	TableIngestLedger  = "ingest_ledger"
	TableRuns          = "backtest_runs"
	TableTrades        = "backtest_trades"
	TableEquity        = "backtest_equity"
	priceColumnDecimal = "Decimal(38, 10)"
)

// SchemaStatements returns the DDL for every table the service reads or
// writes, qualified with database.
func SchemaStatements(database string) []string {
	q := func(table string) string { return fmt.Sprintf("%s.%s", database, table) }
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),

		// canonical daily bars; re-ingested days replace older versions
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instrument LowCardinality(String),
			date Date,
			open %[2]s,
			high %[2]s,
			low %[2]s,
			close %[2]s,
			volume %[2]s,
			version UInt64,
			ingested_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY (instrument, date)`, q(TableDailyBars), priceColumnDecimal),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instrument String,
			date String,
			open String,
			high String,
			low String,
			close String,
			volume String,
			file_sha256 String,
			ingested_at DateTime,
			source LowCardinality(String)
		) ENGINE = MergeTree
		ORDER BY (instrument, date, ingested_at)`, q(TableRawDailyBars)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			instrument String,
			file_sha256 String,
			row_count UInt64,
			source LowCardinality(String),
			inserted_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree
		ORDER BY (instrument, file_sha256)`, q(TableIngestLedger)),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			config_hash String,
			data_checksum String,
			engine_version String,
			first_date Date,
			last_date Date,
			total_trades UInt32,
			gross_pnl %[2]s,
			final_equity %[2]s,
			max_drawdown_pct %[2]s,
			summary_json String,
			created_at DateTime
		) ENGINE = MergeTree
		ORDER BY (created_at, run_id)`, q(TableRuns), priceColumnDecimal),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			position_id String,
			instrument LowCardinality(String),
			entry_date Date,
			entry_price %[2]s,
			exit_date Date,
			exit_price %[2]s,
			units Int64,
			pyramids UInt8,
			pnl %[2]s,
			pnl_pct %[2]s,
			exit_reason LowCardinality(String),
			days_held UInt32
		) ENGINE = MergeTree
		ORDER BY (run_id, exit_date, position_id)`, q(TableTrades), priceColumnDecimal),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			date Date,
			equity %[2]s,
			open_pnl %[2]s
		) ENGINE = MergeTree
		ORDER BY (run_id, date)`, q(TableEquity), priceColumnDecimal),
	}
}
