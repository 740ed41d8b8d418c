// Package app wires configuration into the components shared by the CLI and
// the server: logger, strategy registry, market-data provider and stores.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/config"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy/builtins"
	"github.com/ndmikkelsen/btc-algo-trader/internal/util"
)

const redisPingTimeout = 2 * time.Second

// NewLogger builds the process logger from cfg, writing to w.
func NewLogger(w io.Writer, cfg config.Logging) *slog.Logger {
	return util.NewLoggerTo(w, cfg.Level, cfg.Format)
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	builtins.Register(r)
	return r
}

// Provider is a market-data provider plus the resources it holds.
type Provider struct {
	marketdata.Provider
	closers []io.Closer
}

// Close releases the provider's connections.
func (p *Provider) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewProvider builds the bar source selected by cfg.Data.Source and, when
// cfg.Data.Cache is set and Redis answers, puts the Redis cache in front of
// it. An unreachable Redis disables caching with a warning.
func NewProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Provider, error) {
	var base marketdata.Provider
	switch cfg.Data.Source {
	case "alpaca":
		base = NewAlpacaProvider(cfg)
	case "parquet":
		base = marketdata.NewStoreProvider(store.NewParquetStore(cfg.Storage.DataDir), cfg.Exchange)
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}

	p := &Provider{Provider: base}
	if !cfg.Data.Cache {
		return p, nil
	}

	rc := marketdata.NewRedisCache(marketdata.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, bar cache disabled", "addr", cfg.Redis.Addr, "error", err)
		rc.Close()
		return p, nil
	}

	p.Provider = marketdata.NewCachedProvider(base, rc, cfg.Exchange+":"+cfg.Data.Source, cfg.Data.CacheTTL)
	p.closers = append(p.closers, rc)
	log.Info("bar cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Data.CacheTTL)
	return p, nil
}

// NewAlpacaProvider builds the Alpaca market-data adapter from cfg.
func NewAlpacaProvider(cfg *config.Config) *marketdata.AlpacaProvider {
	return marketdata.NewAlpacaProvider(marketdata.AlpacaOptions{
		APIKey:            cfg.Alpaca.APIKey,
		APISecret:         cfg.Alpaca.APISecret,
		DataURL:           cfg.Alpaca.DataURL,
		RequestsPerMinute: cfg.Alpaca.RateLimitPerMin,
		MaxAttempts:       cfg.Alpaca.MaxAttempts,
	})
}

// OpenResults opens the SQLite result store, creating its directory.
func OpenResults(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Storage.SQLitePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}
	return s, nil
}
