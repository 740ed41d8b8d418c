// Package gather downloads historical bars from a market-data provider into
// the local bar store so backtests can run offline.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/util"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the gathering and returns when it is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// BarWriter persists bars for an exchange and timeframe.
type BarWriter interface {
	WriteBars(ctx context.Context, exchange string, tf domain.Timeframe, bars []domain.Bar) error
}

// DateRange represents a time range for data fetching. Both ends are
// inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// MonthlyChunks splits [start, end] at calendar month boundaries (UTC).
// Consecutive chunks do not overlap.
func MonthlyChunks(start, end time.Time) []DateRange {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil
	}

	var chunks []DateRange
	cur := start
	for !cur.After(end) {
		next := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		chunkEnd := next.Add(-time.Nanosecond)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, DateRange{Start: cur, End: chunkEnd})
		cur = next
	}
	return chunks
}

// ---------------------------------------------------------------------------
// BarGatherer
// ---------------------------------------------------------------------------

var _ Gatherer = (*BarGatherer)(nil)

// BarGatherer downloads bars for every (symbol, timeframe) pair in a date
// range, one month per request, and writes them to a BarWriter. Gaps in the
// source data are stored as-is.
type BarGatherer struct {
	provider   marketdata.Provider
	store      BarWriter
	exchange   string
	symbols    []string
	timeframes []domain.Timeframe
	rng        DateRange
	maxWorkers int
	log        *slog.Logger

	written atomic.Int64

	mu    sync.Mutex
	stats []SeriesStats
}

// SeriesStats summarises one downloaded (symbol, timeframe) series.
type SeriesStats struct {
	Symbol    string
	Timeframe domain.Timeframe
	Bars      int
	// Expected is the number of bars a gap-free series would hold over the
	// requested range.
	Expected int
	Gaps     int
}

// Coverage returns Bars/Expected, or 0 when no bars were expected.
func (s SeriesStats) Coverage() float64 {
	if s.Expected <= 0 {
		return 0
	}
	return float64(s.Bars) / float64(s.Expected)
}

// BarGathererOptions configures a BarGatherer.
type BarGathererOptions struct {
	Exchange   string
	Symbols    []string
	Timeframes []domain.Timeframe
	Start      time.Time
	End        time.Time
	// MaxWorkers bounds how many series download concurrently. Defaults to 1.
	MaxWorkers int
	Logger     *slog.Logger
}

// NewBarGatherer creates a BarGatherer reading from p and writing to w.
func NewBarGatherer(p marketdata.Provider, w BarWriter, opts BarGathererOptions) *BarGatherer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &BarGatherer{
		provider:   p,
		store:      w,
		exchange:   opts.Exchange,
		symbols:    opts.Symbols,
		timeframes: opts.Timeframes,
		rng:        DateRange{Start: opts.Start, End: opts.End},
		maxWorkers: max(opts.MaxWorkers, 1),
		log:        log.With("gatherer", "bars", "exchange", opts.Exchange),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "bars" }

// Written returns how many bars the last Run handed to the store.
func (g *BarGatherer) Written() int64 { return g.written.Load() }

// Stats returns per-series results of the last Run, ordered by timeframe
// then symbol.
func (g *BarGatherer) Stats() []SeriesStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := slices.Clone(g.stats)
	slices.SortFunc(out, func(a, b SeriesStats) int {
		if c := strings.Compare(string(a.Timeframe), string(b.Timeframe)); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return out
}

// Run downloads every configured series. The first failing series cancels
// the rest.
func (g *BarGatherer) Run(ctx context.Context) error {
	if g.exchange == "" {
		return fmt.Errorf("gathering bars: exchange is required")
	}
	if !g.rng.Start.Before(g.rng.End) {
		return fmt.Errorf("gathering bars: start %s is not before end %s", g.rng.Start, g.rng.End)
	}
	g.written.Store(0)
	g.mu.Lock()
	g.stats = nil
	g.mu.Unlock()

	chunks := MonthlyChunks(g.rng.Start, g.rng.End)
	runStart := time.Now()
	g.log.Info("starting",
		"symbols", len(g.symbols),
		"timeframes", len(g.timeframes),
		"chunks", len(chunks),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxWorkers)
	for _, tf := range g.timeframes {
		for _, sym := range g.symbols {
			eg.Go(func() error {
				return g.gatherSeries(ctx, sym, tf, chunks)
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	g.log.Info("completed",
		"bars", g.written.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}

func (g *BarGatherer) gatherSeries(ctx context.Context, symbol string, tf domain.Timeframe, chunks []DateRange) error {
	cal := util.NewTradingCalendar(tf)
	var total, gaps int

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		bars, err := g.provider.FetchHistoricalData(ctx, symbol, tf, c.Start, c.End)
		if err != nil {
			return fmt.Errorf("fetching %s %s %s..%s: %w",
				symbol, tf, c.Start.Format(time.DateOnly), c.End.Format(time.DateOnly), err)
		}
		if len(bars) == 0 {
			g.log.Debug("empty chunk", "symbol", symbol, "timeframe", tf, "start", c.Start)
			continue
		}

		// Adapters may leave Symbol empty; the store keys files on it.
		for i := range bars {
			if bars[i].Symbol == "" {
				bars[i].Symbol = symbol
			}
		}

		if err := g.store.WriteBars(ctx, g.exchange, tf, bars); err != nil {
			return fmt.Errorf("storing %s %s: %w", symbol, tf, err)
		}
		total += len(bars)
		gaps += len(cal.Gaps(bars))
		g.written.Add(int64(len(bars)))
	}

	// Range ends are inclusive; ExpectedBars counts [start, end).
	st := SeriesStats{
		Symbol:    symbol,
		Timeframe: tf,
		Bars:      total,
		Expected:  cal.ExpectedBars(g.rng.Start, g.rng.End.Add(time.Nanosecond)),
		Gaps:      gaps,
	}
	g.mu.Lock()
	g.stats = append(g.stats, st)
	g.mu.Unlock()

	g.log.Info("series done",
		"symbol", symbol,
		"timeframe", tf,
		"bars", total,
		"expected", st.Expected,
		"coverage", fmt.Sprintf("%.1f%%", st.Coverage()*100),
		"gaps", gaps,
	)
	return nil
}
