// Package marketdata defines the historical data contract consumed by the
// backtest engine and the adapters that satisfy it: the Alpaca market-data
// API, the local Parquet bar store, and a Redis read-through cache.
package marketdata

import (
	"context"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Provider returns historical bars for symbol at timeframe tf with
// timestamps in [start, end]. Implementations must return bars sorted
// ascending with no duplicate timestamps. Gaps are allowed but must not be
// filled in.
type Provider interface {
	FetchHistoricalData(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)
}

// OrderBookProvider returns the current top-of-book for symbol, up to depth
// levels per side.
type OrderBookProvider interface {
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBookSnapshot, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)

// FetchHistoricalData calls f.
func (f ProviderFunc) FetchHistoricalData(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	return f(ctx, symbol, tf, start, end)
}

// Request identifies one series to fetch.
type Request struct {
	Symbol    string
	Timeframe domain.Timeframe
	Start     time.Time
	End       time.Time
}

// Key returns a stable identifier for the request.
func (r Request) Key() string {
	return r.Symbol + ":" + string(r.Timeframe) + ":" +
		r.Start.UTC().Format(time.RFC3339) + ":" + r.End.UTC().Format(time.RFC3339)
}

// inRange reports whether ts lies in [start, end].
func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
