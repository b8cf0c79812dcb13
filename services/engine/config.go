package engine

// Run configuration and reproducibility manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntrySystem selects which breakout opens positions
type EntrySystem string

const (
	SystemShort EntrySystem = "system1" // close above the short-period high
	SystemLong  EntrySystem = "system2" // close above the long-period high
)

// Triggered reports whether the row carries this system's entry signal.
func (s EntrySystem) Triggered(row SignalRow) bool {
	if s == SystemShort {
		return row.EntryShort
	}
	return row.EntryLong
}

type Config struct {
	AccountSize decimal.Decimal           `json:"account_size"`
	RiskPercent decimal.Decimal           `json:"risk_percent"`
	Signals     SignalParams              `json:"signals"`
	EntrySystem EntrySystem               `json:"entry_system"`
	MaxPyramids int                       `json:"max_pyramids"`
	Instruments map[string]InstrumentSpec `json:"instruments"`
	// Workers bounds parallel signal computation; 0 means one per CPU.
	Workers int `json:"-"`
}

// withDefaults fills unset lookbacks and pyramids. Account size and risk have
// no defaults and are validated instead.
func (c *Config) withDefaults() Config {
	q := *c
	q.Signals = q.Signals.withDefaults()
	if q.EntrySystem == "" {
		q.EntrySystem = SystemLong
	}
	if q.MaxPyramids == 0 {
		q.MaxPyramids = 4
	}
	return q
}

// Multiplier returns the configured contract multiplier, 1 when the
// instrument has no entry.
func (c Config) Multiplier(instrument string) decimal.Decimal {
	if spec, ok := c.Instruments[instrument]; ok && spec.Multiplier.Sign() > 0 {
		return spec.Multiplier
	}
	return decimal.NewFromInt(1)
}

type ConfigSnapshot struct {
	EngineVersion string    `json:"engine_version"`
	ConfigHash    string    `json:"config_hash"`
	DataChecksum  string    `json:"data_checksum"`
	Timestamp     time.Time `json:"timestamp"`
	Config        Config    `json:"config"`
}

const EngineVersion = "1.0.0"

// SnapshotConfig hashes the effective configuration and the input data so a
// run can be reproduced or looked up in a cache.
func SnapshotConfig(cfg Config, series Series) (*ConfigSnapshot, error) {
	configBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return &ConfigSnapshot{
		EngineVersion: EngineVersion,
		ConfigHash:    fmt.Sprintf("%x", sha256.Sum256(configBytes)),
		DataChecksum:  DataChecksum(series),
		Timestamp:     time.Now().UTC(),
		Config:        cfg,
	}, nil
}

// DataChecksum digests every bar in instrument order.
func DataChecksum(series Series) string {
	h := sha256.New()
	for _, inst := range series.Instruments() {
		fmt.Fprintf(h, "%s\n", inst)
		for _, b := range series[inst] {
			fmt.Fprintf(h, "%s,%s,%s,%s,%s,%s\n",
				Day(b.Date).Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// RollChecksum digests roll events in the order they are applied.
func RollChecksum(rolls []RollEvent) string {
	h := sha256.New()
	for _, r := range sortRolls(rolls) {
		fmt.Fprintf(h, "%s,%s,%s,%d\n", r.Instrument, Day(r.Date).Format("2006-01-02"), r.Price, r.ContractMonth)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// RunManifest records everything needed to reproduce a run
type RunManifest struct {
	JobID          string          `json:"job_id"`
	ConfigSnapshot *ConfigSnapshot `json:"config_snapshot"`
	Instruments    []string        `json:"instruments"`
	FirstDate      time.Time       `json:"first_date"`
	LastDate       time.Time       `json:"last_date"`
	WarmupBars     int             `json:"warmup_bars"`
	RollEvents     int             `json:"roll_events"`
	RollChecksum   string          `json:"roll_checksum"`
	CreatedAt      time.Time       `json:"created_at"`
}
