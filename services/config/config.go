// Package config loads run and service settings from YAML, a .env file and
// the environment, in that order of increasing precedence.
//
// Environment overrides:
//
//	TURTLE_ENV, TURTLE_ACCOUNT_SIZE, TURTLE_RISK_PERCENT, TURTLE_ENTRY_SYSTEM,
//	TURTLE_MAX_PYRAMIDS, TURTLE_ROLL_DAYS_BEFORE, TURTLE_ROLL_FILE, TURTLE_DATA_SOURCE,
//	TURTLE_DATA_DIR, TURTLE_HTTP_PORT, TURTLE_GRPC_PORT, TURTLE_MAX_WORKERS,
//	TURTLE_LOG_LEVEL, TURTLE_LOG_DEVELOPMENT
//	CLICKHOUSE_ADDR, CLICKHOUSE_HTTP_URL, CLICKHOUSE_DATABASE,
//	CLICKHOUSE_USER, CLICKHOUSE_PASSWORD
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_TTL
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"turtle-backtest/services/engine"
)

type Config struct {
	Environment string                      `yaml:"environment"`
	Run         RunConfig                   `yaml:"run"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
	Rolls       RollConfig                  `yaml:"rolls"`
	Data        DataConfig                  `yaml:"data"`
	Server      ServerConfig                `yaml:"server"`
	Engine      EngineConfig                `yaml:"engine"`
	ClickHouse  ClickHouseConfig            `yaml:"clickhouse"`
	Redis       RedisConfig                 `yaml:"redis"`
	Logging     LoggingConfig               `yaml:"logging"`
}

// RunConfig holds the strategy parameters. Money values are strings so they
// parse exactly into decimals.
type RunConfig struct {
	AccountSize string `yaml:"account_size"`
	RiskPercent string `yaml:"risk_percent"`
	ShortPeriod int    `yaml:"short_period"`
	LongPeriod  int    `yaml:"long_period"`
	ExitPeriod  int    `yaml:"exit_period"`
	ATRPeriod   int    `yaml:"atr_period"`
	EntrySystem string `yaml:"entry_system"`
	MaxPyramids int    `yaml:"max_pyramids"`
}

type InstrumentConfig struct {
	Multiplier       string `yaml:"multiplier"`
	ExpirationMonths []int  `yaml:"expiration_months"`
}

type RollConfig struct {
	DaysBefore int `yaml:"days_before"`
	// File is an explicit roll schedule: instrument,date,price[,contract_month].
	File string `yaml:"file"`
	// PricesDir holds one <instrument>.csv of replacement-contract bars per
	// instrument; rolls are derived from the expiration calendar.
	PricesDir string `yaml:"prices_dir"`
}

type DataConfig struct {
	Source string `yaml:"source"` // csv | clickhouse
	Dir    string `yaml:"dir"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`
}

type EngineConfig struct {
	MaxWorkers int              `yaml:"max_workers"`
	SLO        engine.SLOConfig `yaml:"slo"`
}

type ClickHouseConfig struct {
	Addr        []string      `yaml:"addr"`
	HTTPURL     string        `yaml:"http_url"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	BatchSize   int           `yaml:"batch_size"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Environment: "dev",
		Run: RunConfig{
			AccountSize: "1000000",
			RiskPercent: "2",
			ShortPeriod: 20,
			LongPeriod:  55,
			ExitPeriod:  10,
			ATRPeriod:   20,
			EntrySystem: string(engine.SystemLong),
			MaxPyramids: 4,
		},
		Instruments: map[string]InstrumentConfig{},
		Rolls:       RollConfig{DaysBefore: 14},
		Data:        DataConfig{Source: "csv", Dir: "./data"},
		Server:      ServerConfig{HTTPPort: 8080, GRPCPort: 9091},
		ClickHouse: ClickHouseConfig{
			Addr:        []string{"localhost:9000"},
			HTTPURL:     "http://localhost:8123",
			Database:    "turtle",
			Username:    "default",
			DialTimeout: 10 * time.Second,
			BatchSize:   10000,
		},
		Redis:   RedisConfig{TTL: 24 * time.Hour},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the first YAML file found among paths, then a .env file if one
// exists, then environment overrides, and validates the result.
func Load(paths ...string) (*Config, error) {
	c := Default()

	if len(paths) == 0 {
		paths = []string{"./configs/turtle.yaml", "./turtle.yaml", "./config.yaml"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve config path %s: %w", p, err)
		}
		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() {
			continue
		}
		b, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", abs, err)
		}
		break
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	c.Environment = pickStr(os.Getenv("TURTLE_ENV"), c.Environment)
	c.Run.AccountSize = pickStr(os.Getenv("TURTLE_ACCOUNT_SIZE"), c.Run.AccountSize)
	c.Run.RiskPercent = pickStr(os.Getenv("TURTLE_RISK_PERCENT"), c.Run.RiskPercent)
	c.Run.EntrySystem = pickStr(os.Getenv("TURTLE_ENTRY_SYSTEM"), c.Run.EntrySystem)
	c.Run.MaxPyramids = pickInt(os.Getenv("TURTLE_MAX_PYRAMIDS"), c.Run.MaxPyramids)
	c.Rolls.DaysBefore = pickInt(os.Getenv("TURTLE_ROLL_DAYS_BEFORE"), c.Rolls.DaysBefore)
	c.Rolls.File = pickStr(os.Getenv("TURTLE_ROLL_FILE"), c.Rolls.File)
	c.Data.Source = pickStr(os.Getenv("TURTLE_DATA_SOURCE"), c.Data.Source)
	c.Data.Dir = pickStr(os.Getenv("TURTLE_DATA_DIR"), c.Data.Dir)
	c.Server.HTTPPort = pickInt(os.Getenv("TURTLE_HTTP_PORT"), c.Server.HTTPPort)
	c.Server.GRPCPort = pickInt(os.Getenv("TURTLE_GRPC_PORT"), c.Server.GRPCPort)
	c.Engine.MaxWorkers = pickInt(os.Getenv("TURTLE_MAX_WORKERS"), c.Engine.MaxWorkers)
	c.Logging.Level = pickStr(os.Getenv("TURTLE_LOG_LEVEL"), c.Logging.Level)
	c.Logging.Development = pickBool(os.Getenv("TURTLE_LOG_DEVELOPMENT"), c.Logging.Development)

	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		c.ClickHouse.Addr = splitCSV(v)
	}
	c.ClickHouse.HTTPURL = pickStr(os.Getenv("CLICKHOUSE_HTTP_URL"), c.ClickHouse.HTTPURL)
	c.ClickHouse.Database = pickStr(os.Getenv("CLICKHOUSE_DATABASE"), c.ClickHouse.Database)
	c.ClickHouse.Username = pickStr(os.Getenv("CLICKHOUSE_USER"), c.ClickHouse.Username)
	c.ClickHouse.Password = pickStr(os.Getenv("CLICKHOUSE_PASSWORD"), c.ClickHouse.Password)

	c.Redis.Addr = pickStr(os.Getenv("REDIS_ADDR"), c.Redis.Addr)
	c.Redis.Password = pickStr(os.Getenv("REDIS_PASSWORD"), c.Redis.Password)
	c.Redis.DB = pickInt(os.Getenv("REDIS_DB"), c.Redis.DB)
	c.Redis.TTL = pickDuration(os.Getenv("REDIS_TTL"), c.Redis.TTL)
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment) {
	case "dev", "staging", "prod":
	default:
		return fmt.Errorf("environment invalid: %s (allowed: dev|staging|prod)", c.Environment)
	}
	if _, err := c.BacktestConfig(); err != nil {
		return err
	}
	if c.Rolls.DaysBefore < 0 {
		return errors.New("rolls.days_before must not be negative")
	}
	switch c.Data.Source {
	case "csv", "clickhouse":
	default:
		return fmt.Errorf("data.source invalid: %s (allowed: csv|clickhouse)", c.Data.Source)
	}
	for _, field := range []struct {
		name, value string
	}{{"data.from", c.Data.From}, {"data.to", c.Data.To}} {
		if field.value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", field.value); err != nil {
			return fmt.Errorf("%s invalid: %w", field.name, err)
		}
	}
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return errors.New("server ports must be positive")
	}
	if c.Data.Source == "clickhouse" && len(c.ClickHouse.Addr) == 0 {
		return errors.New("clickhouse.addr required when data.source is clickhouse")
	}
	return nil
}

// BacktestConfig converts the run section into an engine configuration and
// checks it with the engine's own validation.
func (c *Config) BacktestConfig() (engine.Config, error) {
	account, err := decimal.NewFromString(c.Run.AccountSize)
	if err != nil {
		return engine.Config{}, fmt.Errorf("run.account_size invalid: %w", err)
	}
	risk, err := decimal.NewFromString(c.Run.RiskPercent)
	if err != nil {
		return engine.Config{}, fmt.Errorf("run.risk_percent invalid: %w", err)
	}

	instruments := make(map[string]engine.InstrumentSpec, len(c.Instruments))
	for name, ic := range c.Instruments {
		spec := engine.InstrumentSpec{ExpirationMonths: ic.ExpirationMonths}
		if ic.Multiplier != "" {
			m, err := decimal.NewFromString(ic.Multiplier)
			if err != nil {
				return engine.Config{}, fmt.Errorf("instruments.%s.multiplier invalid: %w", name, err)
			}
			spec.Multiplier = m
		}
		instruments[name] = spec
	}

	ec := engine.Config{
		AccountSize: account,
		RiskPercent: risk,
		Signals: engine.SignalParams{
			ShortPeriod: c.Run.ShortPeriod,
			LongPeriod:  c.Run.LongPeriod,
			ExitPeriod:  c.Run.ExitPeriod,
			ATRPeriod:   c.Run.ATRPeriod,
		},
		EntrySystem: engine.EntrySystem(c.Run.EntrySystem),
		MaxPyramids: c.Run.MaxPyramids,
		Instruments: instruments,
		Workers:     c.Engine.MaxWorkers,
	}
	if err := engine.ValidateConfig(ec); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// DateRange parses data.from and data.to. A missing bound is the zero time.
func (c *Config) DateRange() (from, to time.Time) {
	from, _ = time.Parse("2006-01-02", c.Data.From)
	to, _ = time.Parse("2006-01-02", c.Data.To)
	return from, to
}

func pickStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func pickInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pickBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func pickDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
