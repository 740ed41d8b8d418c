package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// BarReader reads stored bars. store.ParquetStore implements it.
type BarReader interface {
	ReadBars(ctx context.Context, exchange, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)
}

// StoreProvider serves historical bars from a local BarReader under one
// exchange namespace.
type StoreProvider struct {
	reader   BarReader
	exchange string
}

// NewStoreProvider creates a StoreProvider reading bars for exchange.
func NewStoreProvider(reader BarReader, exchange string) *StoreProvider {
	return &StoreProvider{reader: reader, exchange: exchange}
}

// FetchHistoricalData implements Provider.
func (p *StoreProvider) FetchHistoricalData(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	bars, err := p.reader.ReadBars(ctx, p.exchange, symbol, tf, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s %s bars: %w", p.exchange, symbol, tf, err)
	}
	return Normalize(bars), nil
}
