package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideVars = []string{
	"BTCALGO_EXCHANGE", "BTCALGO_SYMBOL", "BTCALGO_TIMEFRAME",
	"DATA_DIR", "SQLITE_PATH",
	"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_DATA_URL",
	"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"LOG_LEVEL",
}

// clearEnv blanks every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
exchange: alpaca
backtest:
  symbol: "ETH/USD"
  timeframe: "4h"
  start_date: "2024-01-01"
  end_date: "2024-03-01"
  initial_balance: 5000
  commission_rate: 0.002
  allow_pyramiding: true
  risk_free_rate: 0.04
  max_position_pct: 0.5
strategy:
  name: buy-and-hold
  params:
    position_size_pct: 0.25
data:
  source: parquet
  cache: true
  cache_ttl: 2h
  prefetch_concurrency: 8
storage:
  data_dir: "/tmp/btcalgo/data"
  sqlite_path: "/tmp/btcalgo/runs.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  rate_limit_per_min: 100
redis:
  addr: "redis:6379"
  db: 2
server:
  port: 8181
  grpc_port: 9191
logging:
  level: debug
  format: json
gather:
  symbols: ["BTC/USD", "ETH/USD"]
  timeframes: ["1h", "1d"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Backtest --
	bt := cfg.Backtest
	if bt.Symbol != "ETH/USD" || bt.Timeframe != "4h" {
		t.Errorf("Backtest symbol/timeframe = %q/%q, want ETH/USD/4h", bt.Symbol, bt.Timeframe)
	}
	if bt.InitialBalance != 5000 || bt.CommissionRate != 0.002 {
		t.Errorf("Backtest balance/commission = %v/%v, want 5000/0.002", bt.InitialBalance, bt.CommissionRate)
	}
	if !bt.AllowPyramiding || bt.RiskFreeRate != 0.04 || bt.MaxPositionPct != 0.5 {
		t.Errorf("Backtest = %+v", bt)
	}

	// -- Strategy --
	if cfg.Strategy.Name != "buy-and-hold" {
		t.Errorf("Strategy.Name = %q, want buy-and-hold", cfg.Strategy.Name)
	}
	if got := cfg.Strategy.Params.Float("position_size_pct", 0); got != 0.25 {
		t.Errorf("position_size_pct = %v, want 0.25", got)
	}

	// -- Data --
	if cfg.Data.Source != "parquet" || !cfg.Data.Cache {
		t.Errorf("Data = %+v", cfg.Data)
	}
	if cfg.Data.CacheTTL != 2*time.Hour {
		t.Errorf("Data.CacheTTL = %v, want 2h", cfg.Data.CacheTTL)
	}
	if cfg.Data.PrefetchConcurrency != 8 {
		t.Errorf("Data.PrefetchConcurrency = %d, want 8", cfg.Data.PrefetchConcurrency)
	}

	// -- Storage, Alpaca, Redis --
	if cfg.Storage.DataDir != "/tmp/btcalgo/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.RateLimitPerMin != 100 {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Alpaca.MaxAttempts != 3 {
		t.Errorf("Alpaca.MaxAttempts = %d, want default 3", cfg.Alpaca.MaxAttempts)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}

	// -- Server: host falls back to the default --
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8181 || cfg.Server.GRPCPort != 9191 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if len(cfg.Gather.Symbols) != 2 || cfg.Gather.Timeframes[1] != "1d" {
		t.Errorf("Gather = %+v", cfg.Gather)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Backtest.Symbol != "BTC/USD" || cfg.Backtest.Timeframe != "1h" {
		t.Errorf("default symbol/timeframe = %q/%q", cfg.Backtest.Symbol, cfg.Backtest.Timeframe)
	}
	if cfg.Backtest.InitialBalance != 10000 || cfg.Backtest.CommissionRate != 0.001 {
		t.Errorf("default balance/commission = %v/%v", cfg.Backtest.InitialBalance, cfg.Backtest.CommissionRate)
	}
	if cfg.Strategy.Name != "sma-cross" {
		t.Errorf("default strategy = %q", cfg.Strategy.Name)
	}
	p := cfg.Strategy.Params
	if p.Int("short_window", 0) != 20 || p.Int("long_window", 0) != 50 || p.Float("position_size_pct", 0) != 0.1 {
		t.Errorf("default params = %v", p)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALPACA_API_KEY", "from-alpaca")
	t.Setenv("APCA_API_KEY_ID", "from-apca")
	t.Setenv("ALPACA_API_SECRET", "secret")
	t.Setenv("DATA_DIR", "/srv/data")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("BTCALGO_SYMBOL", "SOL/USD")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "from-apca" {
		t.Errorf("Alpaca.APIKey = %q, want APCA_API_KEY_ID to win", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.APISecret != "secret" {
		t.Errorf("Alpaca.APISecret = %q", cfg.Alpaca.APISecret)
	}
	if cfg.Storage.DataDir != "/srv/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Redis.Addr != "cache:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Backtest.Symbol != "SOL/USD" {
		t.Errorf("Backtest.Symbol = %q", cfg.Backtest.Symbol)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timeframe", func(c *Config) { c.Backtest.Timeframe = "3h" }, "timeframe"},
		{"bad source", func(c *Config) { c.Data.Source = "csv" }, "data.source"},
		{"zero balance", func(c *Config) { c.Backtest.InitialBalance = 0 }, "backtest"},
		{"negative commission", func(c *Config) { c.Backtest.CommissionRate = -0.1 }, "backtest"},
		{"no exchange", func(c *Config) { c.Exchange = "" }, "exchange"},
		{"bad gather timeframe", func(c *Config) { c.Gather.Timeframes = []string{"7m"} }, "gather"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.Backtest.AllowPyramiding = true
	cfg.Backtest.MaxPositionPct = 0.3
	ec := cfg.EngineConfig()
	if ec.InitialBalance != 10000 || ec.CommissionRate != 0.001 || !ec.AllowPyramiding || ec.MaxPositionPct != 0.3 {
		t.Errorf("EngineConfig() = %+v", ec)
	}
}

func TestBacktestRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	start, end, err := Backtest{}.Range(now)
	if err != nil {
		t.Fatalf("Range() returned error: %v", err)
	}
	if !end.Equal(now) || !start.Equal(now.Add(-DefaultLookback)) {
		t.Errorf("Range() = %v..%v, want last 30 days", start, end)
	}

	start, end, err = Backtest{StartDate: "2024-01-01", EndDate: "2024-02-01"}.Range(now)
	if err != nil {
		t.Fatalf("Range() returned error: %v", err)
	}
	if !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Range() = %v..%v", start, end)
	}

	if _, _, err := (Backtest{StartDate: "2024-02-01", EndDate: "2024-01-01"}).Range(now); err == nil {
		t.Error("expected error when start is after end")
	}
	if _, _, err := (Backtest{StartDate: "01/02/2024"}).Range(now); err == nil {
		t.Error("expected error for a malformed date")
	}
}
