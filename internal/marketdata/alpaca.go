package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sony/gobreaker"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/util"
)

// Compile-time interface checks.
var _ Provider = (*AlpacaProvider)(nil)
var _ OrderBookProvider = (*AlpacaProvider)(nil)

// alpacaClient is the subset of *alpacamd.Client used by AlpacaProvider.
type alpacaClient interface {
	GetCryptoBars(symbol string, req alpacamd.GetCryptoBarsRequest) ([]alpacamd.CryptoBar, error)
	GetBars(symbol string, req alpacamd.GetBarsRequest) ([]alpacamd.Bar, error)
	GetLatestCryptoQuote(symbol string, req alpacamd.GetLatestCryptoQuoteRequest) (*alpacamd.CryptoQuote, error)
}

// AlpacaOptions configures an AlpacaProvider.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	// RequestsPerMinute throttles API calls. Zero disables throttling.
	RequestsPerMinute int
	// MaxAttempts is the number of tries per call, including the first.
	MaxAttempts int
	RetryDelay  time.Duration
	// PageLimit is the number of bars requested per page.
	PageLimit int
}

// AlpacaProvider fetches bars and top-of-book quotes from the Alpaca market-data
// API. Symbols containing "/" (e.g. BTC/USD) are crypto pairs; anything else
// is treated as a US equity.
type AlpacaProvider struct {
	client  alpacaClient
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	opts    AlpacaOptions
	log     *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider backed by a marketdata client.
func NewAlpacaProvider(opts AlpacaOptions) *AlpacaProvider {
	clientOpts := alpacamd.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpacaProvider(alpacamd.NewClient(clientOpts), opts)
}

func newAlpacaProvider(client alpacaClient, opts AlpacaOptions) *AlpacaProvider {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 1000
	}

	st := gobreaker.Settings{
		Name:     "alpaca-marketdata",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	p := &AlpacaProvider{
		client:  client,
		limiter: util.NewRateLimiter(opts.RequestsPerMinute),
		opts:    opts,
		log:     slog.Default().With("component", "alpaca-marketdata"),
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		p.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}
	p.breaker = gobreaker.NewCircuitBreaker(st)
	return p
}

// IsCrypto reports whether symbol names a crypto pair.
func IsCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}

// FetchHistoricalData implements Provider.
func (p *AlpacaProvider) FetchHistoricalData(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	atf, err := alpacaTimeFrame(tf)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var bars []domain.Bar
	err = p.call(ctx, func() error {
		var ferr error
		if IsCrypto(symbol) {
			bars, ferr = p.cryptoBars(symbol, atf, start, end)
		} else {
			bars, ferr = p.stockBars(symbol, atf, start, end)
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s bars from alpaca: %w", symbol, tf, err)
	}

	filtered := bars[:0]
	for _, b := range bars {
		if inRange(b.Timestamp, start, end) {
			filtered = append(filtered, b)
		}
	}
	bars = Normalize(filtered)

	p.log.Debug("fetched bars", "symbol", symbol, "timeframe", string(tf), "count", len(bars))
	return bars, nil
}

// FetchOrderBook implements OrderBookProvider. Only crypto pairs carry a
// book on Alpaca. The REST API exposes top of book only, so the snapshot has
// at most one level per side whatever depth is requested.
func (p *AlpacaProvider) FetchOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBookSnapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !IsCrypto(symbol) {
		return nil, fmt.Errorf("order book unavailable for non-crypto symbol %q", symbol)
	}

	var q *alpacamd.CryptoQuote
	err := p.call(ctx, func() error {
		var ferr error
		q, ferr = p.client.GetLatestCryptoQuote(symbol, alpacamd.GetLatestCryptoQuoteRequest{})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s quote from alpaca: %w", symbol, err)
	}
	if q == nil {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	if depth > 1 {
		p.log.Debug("alpaca returns top of book only", "symbol", symbol, "depth", depth)
	}

	return &domain.OrderBookSnapshot{
		Timestamp: q.Timestamp.UTC(),
		Bids:      topLevel(q.BidPrice, q.BidSize),
		Asks:      topLevel(q.AskPrice, q.AskSize),
	}, nil
}

// call runs fn through the rate limiter, retry loop and circuit breaker. An
// open breaker is not retried.
func (p *AlpacaProvider) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, p.opts.MaxAttempts, p.opts.RetryDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return util.Permanent(err)
		}
		return err
	})
}

func (p *AlpacaProvider) cryptoBars(symbol string, tf alpacamd.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := p.client.GetCryptoBars(symbol, alpacamd.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		PageLimit: p.opts.PageLimit,
	})
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, cb := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  cb.Timestamp.UTC(),
			Open:       cb.Open,
			High:       cb.High,
			Low:        cb.Low,
			Close:      cb.Close,
			Volume:     cb.Volume,
			TradeCount: int64(cb.TradeCount),
			VWAP:       cb.VWAP,
		})
	}
	return bars, nil
}

func (p *AlpacaProvider) stockBars(symbol string, tf alpacamd.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := p.client.GetBars(symbol, alpacamd.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		PageLimit: p.opts.PageLimit,
	})
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     float64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// topLevel returns a one-level side, or none when the quote side is empty.
func topLevel(price, size float64) []domain.PriceLevel {
	if price <= 0 {
		return []domain.PriceLevel{}
	}
	return []domain.PriceLevel{{Price: price, Volume: size}}
}

// alpacaTimeFrame maps a domain timeframe onto Alpaca's amount+unit form.
func alpacaTimeFrame(tf domain.Timeframe) (alpacamd.TimeFrame, error) {
	switch tf {
	case domain.Timeframe1m:
		return alpacamd.NewTimeFrame(1, alpacamd.Min), nil
	case domain.Timeframe5m:
		return alpacamd.NewTimeFrame(5, alpacamd.Min), nil
	case domain.Timeframe15m:
		return alpacamd.NewTimeFrame(15, alpacamd.Min), nil
	case domain.Timeframe30m:
		return alpacamd.NewTimeFrame(30, alpacamd.Min), nil
	case domain.Timeframe1h:
		return alpacamd.NewTimeFrame(1, alpacamd.Hour), nil
	case domain.Timeframe2h:
		return alpacamd.NewTimeFrame(2, alpacamd.Hour), nil
	case domain.Timeframe4h:
		return alpacamd.NewTimeFrame(4, alpacamd.Hour), nil
	case domain.Timeframe6h:
		return alpacamd.NewTimeFrame(6, alpacamd.Hour), nil
	case domain.Timeframe12h:
		return alpacamd.NewTimeFrame(12, alpacamd.Hour), nil
	case domain.Timeframe1d:
		return alpacamd.NewTimeFrame(1, alpacamd.Day), nil
	case domain.Timeframe1w:
		return alpacamd.NewTimeFrame(1, alpacamd.Week), nil
	}
	return alpacamd.TimeFrame{}, fmt.Errorf("timeframe %q not supported by alpaca", tf)
}
