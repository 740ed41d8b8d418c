// Package store persists historical bars in Parquet files and backtest runs
// in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bars, namespaced by exchange and
// timeframe.
type BarStore interface {
	// WriteBars merges bars into storage; a bar replaces any stored bar with
	// the same symbol and timestamp.
	WriteBars(ctx context.Context, exchange string, tf domain.Timeframe, bars []domain.Bar) error

	// ReadBars returns bars for symbol with timestamps in [start, end],
	// sorted ascending.
	ReadBars(ctx context.Context, exchange, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns the symbols stored for exchange and tf.
	ListSymbols(ctx context.Context, exchange string, tf domain.Timeframe) ([]string, error)
}

// ResultStore persists completed backtest runs.
type ResultStore interface {
	// SaveRun stores res and returns its generated run ID.
	SaveRun(ctx context.Context, res *engine.Result) (string, error)

	// GetRun loads a run with its full trade log and equity curve.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Run is a stored backtest.
type Run struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Result    *engine.Result `json:"result"`
}

// RunSummary is the listing form of a Run.
type RunSummary struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Strategy    string           `json:"strategy"`
	Symbol      string           `json:"symbol"`
	Timeframe   domain.Timeframe `json:"timeframe"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	TotalReturn float64          `json:"total_return"`
	SharpeRatio float64          `json:"sharpe_ratio"`
	MaxDrawdown float64          `json:"max_drawdown"`
	TotalTrades int              `json:"total_trades"`
	FinalValue  float64          `json:"final_value"`
}
