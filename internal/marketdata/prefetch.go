package marketdata

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Prefetch fetches every request concurrently, at most concurrency at a
// time, and returns the series keyed by Request.Key. The first failure
// cancels the rest. Simulation should start only after Prefetch returns.
func Prefetch(ctx context.Context, p Provider, reqs []Request, concurrency int) (map[string][]domain.Bar, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu  sync.Mutex
		out = make(map[string][]domain.Bar, len(reqs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			bars, err := p.FetchHistoricalData(gctx, req.Symbol, req.Timeframe, req.Start, req.End)
			if err != nil {
				return fmt.Errorf("prefetching %s: %w", req.Key(), err)
			}
			mu.Lock()
			out[req.Key()] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
