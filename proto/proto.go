// Package proto holds the wire messages of the backtest service. Decimal
// values travel as strings so no precision is lost in transit.
package proto

type RunOverrides struct {
	AccountSize string            `json:"account_size,omitempty"`
	RiskPercent string            `json:"risk_percent,omitempty"`
	ShortPeriod int32             `json:"short_period,omitempty"`
	LongPeriod  int32             `json:"long_period,omitempty"`
	ExitPeriod  int32             `json:"exit_period,omitempty"`
	AtrPeriod   int32             `json:"atr_period,omitempty"`
	EntrySystem string            `json:"entry_system,omitempty"`
	MaxPyramids int32             `json:"max_pyramids,omitempty"`
	Multipliers map[string]string `json:"multipliers,omitempty"`
}

type Bar struct {
	Date   string `json:"date"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume,omitempty"`
}

type RollEvent struct {
	Instrument    string `json:"instrument"`
	Date          string `json:"date"`
	Price         string `json:"price"`
	ContractMonth int32  `json:"contract_month,omitempty"`
}

// BacktestRequest selects data either inline (Bars) or from the configured
// source (Instruments with an optional From/To range).
type BacktestRequest struct {
	Overrides     *RunOverrides     `json:"overrides,omitempty"`
	Instruments   []string          `json:"instruments,omitempty"`
	From          string            `json:"from,omitempty"`
	To            string            `json:"to,omitempty"`
	Bars          map[string][]*Bar `json:"bars,omitempty"`
	Rolls         []*RollEvent      `json:"rolls,omitempty"`
	IncludeEvents bool              `json:"include_events,omitempty"`
}

type Trade struct {
	PositionId string `json:"position_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	EntryDate  string `json:"entry_date"`
	EntryPrice string `json:"entry_price"`
	ExitDate   string `json:"exit_date"`
	ExitPrice  string `json:"exit_price"`
	Units      int64  `json:"units"`
	Pyramids   int32  `json:"pyramids"`
	Pnl        string `json:"pnl"`
	PnlPct     string `json:"pnl_pct"`
	ExitReason string `json:"exit_reason"`
	DaysHeld   int32  `json:"days_held"`
}

type EquityPoint struct {
	Date     string `json:"date"`
	Equity   string `json:"equity"`
	OpenPnl  string `json:"open_pnl"`
	OpenRisk string `json:"open_risk"`
}

type Summary struct {
	TotalTrades    int32            `json:"total_trades"`
	WinningTrades  int32            `json:"winning_trades"`
	LosingTrades   int32            `json:"losing_trades"`
	WinRatePct     string           `json:"win_rate_pct"`
	GrossPnl       string           `json:"gross_pnl"`
	AvgPnlPerTrade string           `json:"avg_pnl_per_trade"`
	ProfitFactor   string           `json:"profit_factor"`
	BestTrade      string           `json:"best_trade"`
	WorstTrade     string           `json:"worst_trade"`
	AvgDaysHeld    string           `json:"avg_days_held"`
	FinalEquity    string           `json:"final_equity"`
	TotalReturnPct string           `json:"total_return_pct"`
	MaxDrawdownPct string           `json:"max_drawdown_pct"`
	ExitReasons    map[string]int32 `json:"exit_reasons"`
}

type InstrumentStats struct {
	Instrument     string `json:"instrument"`
	TotalTrades    int32  `json:"total_trades"`
	WinningTrades  int32  `json:"winning_trades"`
	LosingTrades   int32  `json:"losing_trades"`
	GrossPnl       string `json:"gross_pnl"`
	AvgPnlPerTrade string `json:"avg_pnl_per_trade"`
}

type Event struct {
	Date       string            `json:"date"`
	Type       string            `json:"type"`
	Instrument string            `json:"instrument"`
	PositionId string            `json:"position_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

type RunManifest struct {
	JobId         string   `json:"job_id"`
	EngineVersion string   `json:"engine_version"`
	ConfigHash    string   `json:"config_hash"`
	DataChecksum  string   `json:"data_checksum"`
	RollChecksum  string   `json:"roll_checksum"`
	Instruments   []string `json:"instruments"`
	FirstDate     string   `json:"first_date"`
	LastDate      string   `json:"last_date"`
	WarmupBars    int32    `json:"warmup_bars"`
	RollEvents    int32    `json:"roll_events"`
	CreatedAt     int64    `json:"created_at"`
}

type BacktestResponse struct {
	JobId           string             `json:"job_id"`
	ExecutionTimeMs int64              `json:"execution_time_ms"`
	Cached          bool               `json:"cached"`
	Summary         *Summary           `json:"summary"`
	Trades          []*Trade           `json:"trades"`
	EquityCurve     []*EquityPoint     `json:"equity_curve"`
	PerInstrument   []*InstrumentStats `json:"per_instrument"`
	RollsApplied    int32              `json:"rolls_applied"`
	DataGaps        int32              `json:"data_gaps"`
	FinalRisk       *RiskReport        `json:"final_risk"`
	Events          []*Event           `json:"events,omitempty"`
	Manifest        *RunManifest       `json:"manifest"`
}

type GetBacktestRequest struct {
	JobId string `json:"job_id"`
}

type ScanRequest struct {
	Overrides   *RunOverrides     `json:"overrides,omitempty"`
	Instruments []string          `json:"instruments,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Bars        map[string][]*Bar `json:"bars,omitempty"`
}

type ScanRow struct {
	Instrument  string `json:"instrument"`
	Date        string `json:"date"`
	Close       string `json:"close"`
	N           string `json:"n,omitempty"`
	EntryShort  bool   `json:"entry_short"`
	EntryLong   bool   `json:"entry_long"`
	ExitLong    bool   `json:"exit_long"`
	Units       int64  `json:"units"`
	StopPrice   string `json:"stop_price,omitempty"`
	Notional    string `json:"notional,omitempty"`
	RiskDollars string `json:"risk_dollars,omitempty"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

type RiskReport struct {
	NumPositions     int32  `json:"num_positions"`
	TotalNotional    string `json:"total_notional"`
	TotalRiskDollars string `json:"total_risk_dollars"`
	PctAccountAtRisk string `json:"pct_of_account_at_risk"`
	Leverage         string `json:"leverage"`
}

type ScanResponse struct {
	Rows []*ScanRow  `json:"rows"`
	Risk *RiskReport `json:"risk"`
}
