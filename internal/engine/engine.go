// Package engine runs deterministic bar-by-bar backtests of a strategy over
// historical data, with portfolio bookkeeping, an affordability clamp and
// parameter sweeps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/broker"
	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/performance"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// Engine runs backtests of one strategy. An Engine holds no per-run state,
// but the strategy it wraps usually does, so a single Engine must not run
// concurrent backtests. Use separate engines (see Sweep) for parallel runs.
type Engine struct {
	cfg      Config
	strategy strategy.Strategy
	data     marketdata.Provider
	broker   broker.Broker
	risk     *RiskManager
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBroker replaces the default simulator fill model.
func WithBroker(b broker.Broker) Option {
	return func(e *Engine) {
		if b != nil {
			e.broker = b
		}
	}
}

// New creates an Engine. data may be nil when only Simulate is used.
func New(cfg Config, strat strategy.Strategy, data marketdata.Provider, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, invalidConfig("strategy is required")
	}

	e := &Engine{
		cfg:      cfg,
		strategy: strat,
		data:     data,
		broker:   broker.NewSimulatorBroker(cfg.CommissionRate),
		risk:     NewRiskManager(cfg.CommissionRate, cfg.MaxPositionPct),
		log:      slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Strategy returns the strategy under test.
func (e *Engine) Strategy() strategy.Strategy { return e.strategy }

// ---------------------------------------------------------------------------
// Inputs and results
// ---------------------------------------------------------------------------

// Input is a fully materialized series to simulate over.
type Input struct {
	Symbol    string
	Timeframe domain.Timeframe
	Bars      []domain.Bar
	// OrderBooks are optional snapshots; each bar sees the latest one taken
	// at or before its timestamp.
	OrderBooks []domain.OrderBookSnapshot
}

// Result is the immutable outcome of one backtest.
type Result struct {
	Symbol         string               `json:"symbol"`
	Strategy       string               `json:"strategy"`
	Timeframe      domain.Timeframe     `json:"timeframe"`
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	Bars           int                  `json:"bars"`
	InitialBalance float64              `json:"initial_balance"`
	CommissionRate float64              `json:"commission_rate"`
	Trades         []domain.Trade       `json:"trades"`
	EquityCurve    []domain.EquityPoint `json:"equity_curve"`
	FinalCash      float64              `json:"final_cash"`
	FinalPosition  domain.Position      `json:"final_position"`
	FinalPrice     float64              `json:"final_price"`
	SkippedOrders  int                  `json:"skipped_orders"`
	Metrics        performance.Metrics  `json:"metrics"`
}

// UnrealizedPnL values the open position at the last close.
func (r *Result) UnrealizedPnL() float64 {
	return r.FinalPosition.UnrealizedPnL(r.FinalPrice)
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// RunBacktest fetches bars for symbol over [start, end] at timeframe and
// simulates over them. The whole series is fetched before the first bar is
// processed.
func (e *Engine) RunBacktest(ctx context.Context, symbol string, start, end time.Time, timeframe string) (*Result, error) {
	symbol = strings.TrimSpace(symbol)
	tf, err := domain.ParseTimeframe(timeframe)
	if err != nil {
		return nil, &RunError{Symbol: symbol, Timeframe: domain.Timeframe(timeframe), Err: invalidConfig("%v", err)}
	}
	if symbol == "" {
		return nil, &RunError{Timeframe: tf, Err: invalidConfig("symbol is required")}
	}
	if !start.Before(end) {
		return nil, &RunError{Symbol: symbol, Timeframe: tf,
			Err: invalidConfig("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))}
	}
	if e.data == nil {
		return nil, &RunError{Symbol: symbol, Timeframe: tf, Err: invalidConfig("no market data provider")}
	}

	bars, err := e.data.FetchHistoricalData(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, &RunError{Symbol: symbol, Timeframe: tf, Err: fmt.Errorf("%w: %w", ErrDataUnavailable, err)}
	}

	res, err := e.Simulate(ctx, Input{Symbol: symbol, Timeframe: tf, Bars: bars})
	if err != nil {
		return nil, &RunError{Symbol: symbol, Timeframe: tf, Err: err}
	}
	return res, nil
}

// Simulate runs the strategy over in.Bars. Bars are processed strictly in
// order; for each one the strategy decides, SELLs execute before BUYs, and
// the equity point is recorded after any trade. Inputs are not modified.
func (e *Engine) Simulate(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Symbol) == "" {
		return nil, invalidConfig("symbol is required")
	}
	if !in.Timeframe.Valid() {
		return nil, invalidConfig("unknown timeframe %q", in.Timeframe)
	}
	if err := marketdata.ValidateSeries(in.Bars, in.Timeframe); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrDataUnavailable, in.Symbol, in.Timeframe, err)
	}

	bars := slices.Clone(in.Bars)
	books := sortedBooks(in.OrderBooks)
	r := &run{
		engine: e,
		symbol: in.Symbol,
		pf:     NewPortfolio(e.cfg.InitialBalance),
	}

	e.log.DebugContext(ctx, "simulation starting",
		"strategy", e.strategy.Name(),
		"symbol", in.Symbol,
		"timeframe", string(in.Timeframe),
		"bars", len(bars),
	)

	bookIdx := -1
	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled before bar %d: %w", i, err)
		}
		bar := bars[i]
		for bookIdx+1 < len(books) && !books[bookIdx+1].Timestamp.After(bar.Timestamp) {
			bookIdx++
		}
		var book *domain.OrderBookSnapshot
		if bookIdx >= 0 {
			book = &books[bookIdx]
		}

		if err := r.step(ctx, i, bars[:i+1:i+1], book); err != nil {
			return nil, err
		}
		r.pf.RecordEquity(bar.Timestamp, bar.Close)
	}

	last := bars[len(bars)-1]
	res := &Result{
		Symbol:         in.Symbol,
		Strategy:       e.strategy.Name(),
		Timeframe:      in.Timeframe,
		Start:          bars[0].Timestamp,
		End:            last.Timestamp,
		Bars:           len(bars),
		InitialBalance: e.cfg.InitialBalance,
		CommissionRate: e.cfg.CommissionRate,
		Trades:         r.pf.Trades(),
		EquityCurve:    r.pf.EquityCurve(),
		FinalCash:      r.pf.Cash(),
		FinalPosition:  r.pf.Position(),
		FinalPrice:     last.Close,
		SkippedOrders:  r.skipped,
	}
	res.Metrics = performance.Calculate(performance.Input{
		InitialBalance: e.cfg.InitialBalance,
		Timeframe:      in.Timeframe,
		RiskFreeRate:   e.cfg.RiskFreeRate,
		EquityCurve:    res.EquityCurve,
		Trades:         res.Trades,
	})

	e.log.InfoContext(ctx, "backtest complete",
		"strategy", res.Strategy,
		"symbol", res.Symbol,
		"timeframe", string(res.Timeframe),
		"bars", res.Bars,
		"trades", res.Metrics.TotalTrades,
		"skipped", res.SkippedOrders,
		"final_value", res.Metrics.FinalValue,
		"total_return", res.Metrics.TotalReturn,
	)
	return res, nil
}

// run is the mutable state of one Simulate call.
type run struct {
	engine  *Engine
	symbol  string
	pf      *Portfolio
	skipped int
}

// step asks the strategy for its decisions on the last bar of seen and
// applies them.
func (r *run) step(ctx context.Context, i int, seen []domain.Bar, book *domain.OrderBookSnapshot) error {
	bar := seen[len(seen)-1]
	fail := func(err error) error {
		return &StrategyError{
			Strategy:  r.engine.strategy.Name(),
			Symbol:    r.symbol,
			Timestamp: bar.Timestamp,
			BarIndex:  i,
			Err:       err,
		}
	}

	signals, err := r.decide(seen, book)
	if err != nil {
		return fail(err)
	}
	for _, sig := range signals {
		if !sig.Valid() {
			return fail(fmt.Errorf("unknown signal %q", sig))
		}
	}

	// SELL before BUY so a reopening order is sized on post-sale cash.
	for _, sig := range signals {
		if sig == domain.SignalSell {
			if err := r.sell(ctx, bar); err != nil {
				return fail(err)
			}
		}
	}
	for _, sig := range signals {
		if sig == domain.SignalBuy {
			if err := r.buy(ctx, bar); err != nil {
				return fail(err)
			}
		}
	}
	return nil
}

func (r *run) decide(seen []domain.Bar, book *domain.OrderBookSnapshot) (signals []domain.Signal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if ms, ok := r.engine.strategy.(strategy.MultiSignalStrategy); ok {
		return ms.GenerateSignals(seen, book)
	}
	sig, err := r.engine.strategy.GenerateSignal(seen, book)
	if err != nil {
		return nil, err
	}
	return []domain.Signal{sig}, nil
}

// buy sizes and executes a BUY. Only strategy panics are returned as errors;
// orders the portfolio cannot take are skipped.
func (r *run) buy(ctx context.Context, bar domain.Bar) error {
	e := r.engine
	pos := r.pf.Position()
	if !pos.IsFlat() && !e.cfg.AllowPyramiding {
		return nil
	}

	px := e.broker.Quote(bar)
	cash := r.pf.Cash()
	requested, err := r.positionSize(px, cash)
	if err != nil {
		return err
	}
	qty := e.risk.ClampBuy(BuyRequest{
		Quantity:     requested,
		Price:        px,
		Cash:         cash,
		Equity:       r.pf.MarkToMarket(px),
		HeldQuantity: pos.Quantity,
	}, e.broker.Commission)
	if qty <= 0 {
		return nil
	}
	if qty < requested {
		e.log.DebugContext(ctx, "buy size clamped", "symbol", r.symbol, "requested", requested, "clamped", qty)
	}

	r.execute(ctx, bar, broker.Order{Side: domain.SideBuy, Quantity: qty})
	return nil
}

func (r *run) sell(ctx context.Context, bar domain.Bar) error {
	e := r.engine
	pos := r.pf.Position()
	if pos.IsFlat() {
		return nil
	}

	qty := pos.Quantity
	if _, ok := e.strategy.(strategy.ExitSizer); ok {
		q, err := r.exitSize(e.broker.Quote(bar), pos.Quantity)
		if err != nil {
			return err
		}
		if math.IsNaN(q) || q <= 0 {
			return nil
		}
		qty = math.Min(q, pos.Quantity)
	}

	r.execute(ctx, bar, broker.Order{Side: domain.SideSell, Quantity: qty})
	return nil
}

// execute fills order and applies it to the portfolio, counting a skip when
// either refuses it.
func (r *run) execute(ctx context.Context, bar domain.Bar, order broker.Order) {
	e := r.engine
	fill, err := e.broker.Fill(order, bar)
	if err == nil {
		var trade domain.Trade
		if fill.Side == domain.SideBuy {
			trade, err = r.pf.ApplyBuy(bar.Timestamp, fill.Price, fill.Quantity, fill.Commission)
		} else {
			trade, err = r.pf.ApplySell(bar.Timestamp, fill.Price, fill.Quantity, fill.Commission)
		}
		if err == nil {
			e.log.DebugContext(ctx, "trade executed",
				"symbol", r.symbol,
				"seq", trade.Seq,
				"side", string(trade.Side),
				"price", trade.Price,
				"quantity", trade.Quantity,
				"commission", trade.Commission,
			)
			return
		}
	}

	r.skipped++
	level := slog.LevelWarn
	if errors.Is(err, broker.ErrRejected) {
		level = slog.LevelInfo
	}
	e.log.Log(ctx, level, "order skipped",
		"symbol", r.symbol,
		"timestamp", bar.Timestamp,
		"side", string(order.Side),
		"quantity", order.Quantity,
		"error", err,
	)
}

func (r *run) positionSize(px, cash float64) (qty float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic sizing position: %v", p)
		}
	}()
	return r.engine.strategy.CalculatePositionSize(domain.SignalBuy, px, cash), nil
}

func (r *run) exitSize(px, held float64) (qty float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic sizing exit: %v", p)
		}
	}()
	return r.engine.strategy.(strategy.ExitSizer).CalculateExitSize(px, held), nil
}

// sortedBooks returns a deep copy of books ordered by timestamp.
func sortedBooks(books []domain.OrderBookSnapshot) []domain.OrderBookSnapshot {
	if len(books) == 0 {
		return nil
	}
	out := make([]domain.OrderBookSnapshot, len(books))
	for i, b := range books {
		out[i] = domain.OrderBookSnapshot{
			Timestamp: b.Timestamp,
			Bids:      slices.Clone(b.Bids),
			Asks:      slices.Clone(b.Asks),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
