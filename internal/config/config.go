// Package config loads the YAML configuration for the backtesting platform
// and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// DateLayout is the format of start_date and end_date.
const DateLayout = "2006-01-02"

// DefaultLookback is the backtest window used when no start date is given.
const DefaultLookback = 30 * 24 * time.Hour

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	// Exchange selects the data provider and storage namespace.
	Exchange string   `yaml:"exchange"`
	Backtest Backtest `yaml:"backtest"`
	Strategy Strategy `yaml:"strategy"`
	Data     Data     `yaml:"data"`
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Redis    Redis    `yaml:"redis"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Gather   Gather   `yaml:"gather"`
}

// Backtest holds the parameters of a single run.
type Backtest struct {
	Symbol          string  `yaml:"symbol"`
	Timeframe       string  `yaml:"timeframe"`
	StartDate       string  `yaml:"start_date"`
	EndDate         string  `yaml:"end_date"`
	InitialBalance  float64 `yaml:"initial_balance"`
	CommissionRate  float64 `yaml:"commission_rate"`
	AllowPyramiding bool    `yaml:"allow_pyramiding"`
	RiskFreeRate    float64 `yaml:"risk_free_rate"`
	MaxPositionPct  float64 `yaml:"max_position_pct"`
}

// Strategy names a registered strategy and its parameters.
type Strategy struct {
	Name   string          `yaml:"name"`
	Params strategy.Params `yaml:"params"`
}

// Data selects where bars come from.
type Data struct {
	// Source is "alpaca" or "parquet".
	Source string `yaml:"source"`
	// Cache enables the Redis read-through cache in front of the source.
	Cache               bool          `yaml:"cache"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	PrefetchConcurrency int           `yaml:"prefetch_concurrency"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and limits for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// Redis configures the bar cache.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Gather controls bulk bar downloads into the Parquet store.
type Gather struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`
	StartDate  string   `yaml:"start_date"`
	MaxWorkers int      `yaml:"max_workers"`
}

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Exchange: "alpaca",
		Backtest: Backtest{
			Symbol:         "BTC/USD",
			Timeframe:      "1h",
			InitialBalance: engine.DefaultInitialBalance,
			CommissionRate: engine.DefaultCommissionRate,
		},
		Strategy: Strategy{
			Name: "sma-cross",
			Params: strategy.Params{
				"short_window":      20,
				"long_window":       50,
				"position_size_pct": 0.1,
			},
		},
		Data: Data{
			Source:              "alpaca",
			CacheTTL:            24 * time.Hour,
			PrefetchConcurrency: 4,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/backtests.db",
		},
		Alpaca: Alpaca{
			RateLimitPerMin: 200,
			MaxAttempts:     3,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Gather: Gather{
			Symbols:    []string{"BTC/USD"},
			Timeframes: []string{"1h"},
			StartDate:  "2024-01-01",
			MaxWorkers: 2,
		},
	}
}

// Load reads the YAML configuration file at the given path over the
// defaults and then applies environment variable overrides. An empty path
// yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BTCALGO_EXCHANGE"); v != "" {
		cfg.Exchange = v
	}
	if v := os.Getenv("BTCALGO_SYMBOL"); v != "" {
		cfg.Backtest.Symbol = v
	}
	if v := os.Getenv("BTCALGO_TIMEFRAME"); v != "" {
		cfg.Backtest.Timeframe = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take priority over ALPACA_*.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation and conversion
// ---------------------------------------------------------------------------

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Exchange == "" {
		return errors.New("config: exchange is required")
	}
	if _, err := domain.ParseTimeframe(c.Backtest.Timeframe); err != nil {
		return fmt.Errorf("config: backtest.timeframe: %w", err)
	}
	switch c.Data.Source {
	case "alpaca", "parquet":
	default:
		return fmt.Errorf("config: data.source must be alpaca or parquet, got %q", c.Data.Source)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("config: backtest: %w", err)
	}
	for _, tf := range c.Gather.Timeframes {
		if _, err := domain.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("config: gather.timeframes: %w", err)
		}
	}
	return nil
}

// EngineConfig returns the scalar engine parameters.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		InitialBalance:  c.Backtest.InitialBalance,
		CommissionRate:  c.Backtest.CommissionRate,
		AllowPyramiding: c.Backtest.AllowPyramiding,
		RiskFreeRate:    c.Backtest.RiskFreeRate,
		MaxPositionPct:  c.Backtest.MaxPositionPct,
	}
}

// Range resolves the backtest window. A missing end date means now; a
// missing start date means DefaultLookback before the end.
func (b Backtest) Range(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if b.EndDate != "" {
		t, err := time.Parse(DateLayout, b.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing end_date %q: %w", b.EndDate, err)
		}
		end = t
	}
	start := end.Add(-DefaultLookback)
	if b.StartDate != "" {
		t, err := time.Parse(DateLayout, b.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing start_date %q: %w", b.StartDate, err)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date %s is not before end_date %s",
			start.Format(DateLayout), end.Format(DateLayout))
	}
	return start, end, nil
}
