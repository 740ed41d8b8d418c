package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/broker"
	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy/builtins"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "BTC/USD",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return bars
}

func input(bars []domain.Bar) Input {
	return Input{Symbol: "BTC/USD", Timeframe: domain.Timeframe1h, Bars: bars}
}

// scriptStrategy emits the signal scripted for each bar index and HOLD
// otherwise. It buys pct of available cash.
type scriptStrategy struct {
	script  map[int]domain.Signal
	pct     float64
	size    *float64
	errAt   int
	panicAt int
	books   []*domain.OrderBookSnapshot
}

func newScript(script map[int]domain.Signal) *scriptStrategy {
	return &scriptStrategy{script: script, pct: 1, errAt: -1, panicAt: -1}
}

func (s *scriptStrategy) Name() string { return "script" }

func (s *scriptStrategy) GenerateSignal(bars []domain.Bar, book *domain.OrderBookSnapshot) (domain.Signal, error) {
	i := len(bars) - 1
	s.books = append(s.books, book)
	if i == s.errAt {
		return "", errors.New("indicator blew up")
	}
	if i == s.panicAt {
		panic("index out of range")
	}
	if sig, ok := s.script[i]; ok {
		return sig, nil
	}
	return domain.SignalHold, nil
}

func (s *scriptStrategy) CalculatePositionSize(_ domain.Signal, price, available float64) float64 {
	if s.size != nil {
		return *s.size
	}
	return available * s.pct / price
}

// multiStrategy returns several signals per bar.
type multiStrategy struct {
	scriptStrategy
	multi map[int][]domain.Signal
}

func (m *multiStrategy) GenerateSignals(bars []domain.Bar, _ *domain.OrderBookSnapshot) ([]domain.Signal, error) {
	return m.multi[len(bars)-1], nil
}

// halfExit sells half of the held quantity on every SELL.
type halfExit struct {
	scriptStrategy
}

func (h *halfExit) CalculateExitSize(_, held float64) float64 { return held / 2 }

// mutatingStrategy scribbles on the bars it receives.
type mutatingStrategy struct {
	scriptStrategy
}

func (m *mutatingStrategy) GenerateSignal(bars []domain.Bar, _ *domain.OrderBookSnapshot) (domain.Signal, error) {
	bars[len(bars)-1].Close = -1
	_ = append(bars, domain.Bar{Close: 42})
	return domain.SignalHold, nil
}

func mustEngine(t *testing.T, cfg Config, s strategy.Strategy, data marketdata.Provider, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	e, err := New(cfg, s, data, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func simulate(t *testing.T, cfg Config, s strategy.Strategy, bars []domain.Bar, opts ...Option) *Result {
	t.Helper()
	res, err := mustEngine(t, cfg, s, nil, opts...).Simulate(context.Background(), input(bars))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	return res
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestNoBuySignalsKeepBalance(t *testing.T) {
	s := newScript(map[int]domain.Signal{1: domain.SignalSell, 3: domain.SignalSell})
	res := simulate(t, DefaultConfig(), s, barsFromCloses(100, 120, 80, 95, 130))

	if len(res.Trades) != 0 {
		t.Fatalf("got %d trades, want 0", len(res.Trades))
	}
	if res.Metrics.FinalValue != DefaultInitialBalance {
		t.Errorf("final value = %v, want exactly %v", res.Metrics.FinalValue, DefaultInitialBalance)
	}
	if res.Metrics.CommissionPaid != 0 {
		t.Errorf("commission paid = %v, want 0", res.Metrics.CommissionPaid)
	}
	if len(res.EquityCurve) != 5 {
		t.Errorf("equity points = %d, want one per bar", len(res.EquityCurve))
	}
	for _, p := range res.EquityCurve {
		if p.Value != DefaultInitialBalance {
			t.Errorf("equity at %v = %v, want %v", p.Timestamp, p.Value, DefaultInitialBalance)
		}
	}
	if res.Metrics.MaxDrawdown != 0 || res.Metrics.SharpeRatio != 0 {
		t.Errorf("flat run metrics: drawdown %v sharpe %v, want 0 and 0", res.Metrics.MaxDrawdown, res.Metrics.SharpeRatio)
	}
}

func TestMarkToMarketIdentity(t *testing.T) {
	closes := []float64{100, 101.5, 99.25, 104, 103.3, 98.7, 110.1, 107}
	s := newScript(map[int]domain.Signal{1: domain.SignalBuy, 4: domain.SignalSell, 5: domain.SignalBuy})
	s.pct = 0.37
	res := simulate(t, DefaultConfig(), s, barsFromCloses(closes...))

	last := closes[len(closes)-1]
	want := res.FinalCash + res.FinalPosition.Quantity*last
	if res.Metrics.FinalValue != want {
		t.Errorf("final value = %v, want cash + qty*close = %v", res.Metrics.FinalValue, want)
	}
	if res.FinalCash < 0 {
		t.Errorf("final cash = %v, must not be negative", res.FinalCash)
	}
	if res.Metrics.MaxDrawdown > 0 {
		t.Errorf("max drawdown = %v, must be <= 0", res.Metrics.MaxDrawdown)
	}
	if wr := res.Metrics.WinRate; wr < 0 || wr > 1 {
		t.Errorf("win rate = %v, want within [0, 1]", wr)
	}
	for i := 1; i < len(res.Trades); i++ {
		if res.Trades[i].Timestamp.Before(res.Trades[i-1].Timestamp) {
			t.Errorf("trade %d precedes trade %d", i, i-1)
		}
	}
}

func TestScenarioBuyThenSellAtLoss(t *testing.T) {
	cfg := Config{InitialBalance: 10000, CommissionRate: 0}
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy, 2: domain.SignalSell})
	res := simulate(t, cfg, s, barsFromCloses(100, 110, 90))

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(res.Trades))
	}
	buy, sell := res.Trades[0], res.Trades[1]
	if buy.Side != domain.SideBuy || buy.Quantity != 100 {
		t.Errorf("buy = %+v, want 100 units", buy)
	}
	if got := res.EquityCurve[0].Value; got != 10000 {
		t.Errorf("equity after buy = %v, want 10000", got)
	}
	if sell.Side != domain.SideSell || sell.Quantity != 100 {
		t.Errorf("sell = %+v, want 100 units", sell)
	}
	if res.FinalCash != 9000 {
		t.Errorf("final cash = %v, want 9000", res.FinalCash)
	}
	if res.Metrics.FinalValue != 9000 {
		t.Errorf("final value = %v, want 9000", res.Metrics.FinalValue)
	}
	if math.Abs(res.Metrics.TotalReturn-(-0.10)) > 1e-12 {
		t.Errorf("total return = %v, want -0.10", res.Metrics.TotalReturn)
	}
	if sell.RealizedPnL == nil || *sell.RealizedPnL != -1000 {
		t.Errorf("realized P&L = %v, want -1000", sell.RealizedPnL)
	}
	if !res.FinalPosition.IsFlat() {
		t.Errorf("final position = %+v, want flat", res.FinalPosition)
	}
}

func TestRoundTripPaysBothCommissions(t *testing.T) {
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy, 1: domain.SignalSell})
	s.pct = 0.5
	res := simulate(t, DefaultConfig(), s, barsFromCloses(100, 100, 100))

	closed := 0
	for _, tr := range res.Trades {
		if tr.Closed() {
			closed++
		}
	}
	if len(res.Trades) != 2 || closed != 1 {
		t.Fatalf("trades = %d, closed = %d, want 2 and 1", len(res.Trades), closed)
	}
	buy, sell := res.Trades[0], res.Trades[1]
	want := -buy.Commission - sell.Commission
	if *sell.RealizedPnL != want {
		t.Errorf("realized P&L = %v, want %v", *sell.RealizedPnL, want)
	}
	if buy.Commission != 0.001*100*buy.Quantity {
		t.Errorf("buy commission = %v, want rate*price*qty", buy.Commission)
	}
	if res.Metrics.WinRate != 0 {
		t.Errorf("win rate = %v, want 0 for a losing round trip", res.Metrics.WinRate)
	}
}

func TestBuyIsClampedToCash(t *testing.T) {
	huge := 1e9
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy})
	s.size = &huge
	res := simulate(t, Config{InitialBalance: 1000, CommissionRate: 0.003}, s, barsFromCloses(37.13, 38))

	if len(res.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Quantity >= huge {
		t.Errorf("quantity %v was not clamped", tr.Quantity)
	}
	if cost := tr.Price*tr.Quantity + tr.Commission; cost > 1000 {
		t.Errorf("cost %v exceeds initial cash", cost)
	}
	if res.FinalCash < 0 {
		t.Errorf("cash = %v, must never go negative", res.FinalCash)
	}
	if res.SkippedOrders != 0 {
		t.Errorf("skipped = %d, want 0", res.SkippedOrders)
	}
}

func TestBuySizeEdgeCases(t *testing.T) {
	for name, size := range map[string]float64{"nan": math.NaN(), "negative": -5, "zero": 0} {
		t.Run(name, func(t *testing.T) {
			s := newScript(map[int]domain.Signal{0: domain.SignalBuy})
			s.size = &size
			res := simulate(t, DefaultConfig(), s, barsFromCloses(100, 100))
			if len(res.Trades) != 0 {
				t.Errorf("size %v produced %d trades, want 0", size, len(res.Trades))
			}
			if res.FinalCash != DefaultInitialBalance {
				t.Errorf("cash = %v, want unchanged", res.FinalCash)
			}
		})
	}
}

func TestStrategyErrorIdentifiesBar(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy})
	s.errAt = 5

	res, err := mustEngine(t, DefaultConfig(), s, nil).Simulate(context.Background(), input(bars))
	if res != nil {
		t.Error("expected no result after strategy failure")
	}
	if !errors.Is(err, ErrStrategyFailure) {
		t.Fatalf("error = %v, want ErrStrategyFailure", err)
	}
	var se *StrategyError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *StrategyError", err)
	}
	if !se.Timestamp.Equal(bars[5].Timestamp) || se.BarIndex != 5 {
		t.Errorf("failure at %v (bar %d), want %v (bar 5)", se.Timestamp, se.BarIndex, bars[5].Timestamp)
	}
	if se.Symbol != "BTC/USD" {
		t.Errorf("symbol = %q, want BTC/USD", se.Symbol)
	}
	if len(s.books) != 6 {
		t.Errorf("strategy called %d times, want 6 (run must halt)", len(s.books))
	}
}

func TestStrategyPanicIsFailure(t *testing.T) {
	s := newScript(nil)
	s.panicAt = 2
	_, err := mustEngine(t, DefaultConfig(), s, nil).Simulate(context.Background(), input(barsFromCloses(1, 2, 3, 4)))

	var se *StrategyError
	if !errors.As(err, &se) || se.BarIndex != 2 {
		t.Fatalf("error = %v, want StrategyError at bar 2", err)
	}
}

func TestUnknownSignalIsFailure(t *testing.T) {
	s := newScript(map[int]domain.Signal{1: "short"})
	_, err := mustEngine(t, DefaultConfig(), s, nil).Simulate(context.Background(), input(barsFromCloses(1, 2, 3)))
	if !errors.Is(err, ErrStrategyFailure) {
		t.Errorf("error = %v, want ErrStrategyFailure", err)
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	closes := []float64{10, 9, 8, 7, 12, 13, 14, 6, 5, 9, 11, 12, 13, 8, 7, 6}
	once := func() *Result {
		strat, err := builtins.NewSMACross(2, 3, 0.5)
		if err != nil {
			t.Fatal(err)
		}
		return simulate(t, DefaultConfig(), strat, barsFromCloses(closes...))
	}

	a, b := once(), once()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("results differ between identical runs")
	}
	ja, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ja, jb) {
		t.Error("serialized results differ between identical runs")
	}
	if len(a.Trades) == 0 {
		t.Error("expected the crossover series to trade")
	}
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := mustEngine(t, DefaultConfig(), newScript(nil), nil).Simulate(ctx, input(barsFromCloses(1, 2, 3)))
	if res != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Simulate on cancelled ctx = (%v, %v), want (nil, context.Canceled)", res, err)
	}
}

func TestSellBeforeBuyOnSameBar(t *testing.T) {
	s := &multiStrategy{
		scriptStrategy: *newScript(nil),
		multi: map[int][]domain.Signal{
			0: {domain.SignalBuy},
			1: {domain.SignalBuy, domain.SignalSell},
		},
	}
	res := simulate(t, Config{InitialBalance: 10000}, s, barsFromCloses(100, 125, 125))

	var sides []domain.Side
	for _, tr := range res.Trades {
		sides = append(sides, tr.Side)
	}
	want := []domain.Side{domain.SideBuy, domain.SideSell, domain.SideBuy}
	if !reflect.DeepEqual(sides, want) {
		t.Fatalf("trade sides = %v, want %v", sides, want)
	}
	// The reopening buy is sized on the cash freed by the sale.
	if got := res.Trades[2].Quantity; got != 100 {
		t.Errorf("reopen quantity = %v, want 100", got)
	}
}

func TestPyramiding(t *testing.T) {
	script := map[int]domain.Signal{0: domain.SignalBuy, 1: domain.SignalBuy}

	s := newScript(script)
	s.pct = 0.25
	res := simulate(t, Config{InitialBalance: 1000}, s, barsFromCloses(10, 20, 20))
	if len(res.Trades) != 1 {
		t.Errorf("without pyramiding got %d trades, want 1", len(res.Trades))
	}

	s = newScript(script)
	s.pct = 0.25
	res = simulate(t, Config{InitialBalance: 1000, AllowPyramiding: true}, s, barsFromCloses(10, 20, 20))
	if len(res.Trades) != 2 {
		t.Fatalf("with pyramiding got %d trades, want 2", len(res.Trades))
	}
	// 25 units at 10, then 750*0.25/20 = 9.375 units at 20.
	pos := res.FinalPosition
	if pos.Quantity != 34.375 {
		t.Errorf("quantity = %v, want 34.375", pos.Quantity)
	}
	wantAvg := (25*10 + 9.375*20) / 34.375
	if math.Abs(pos.AvgEntryPrice-wantAvg) > 1e-9 {
		t.Errorf("avg entry = %v, want %v", pos.AvgEntryPrice, wantAvg)
	}
}

func TestExitSizerPartialSell(t *testing.T) {
	s := &halfExit{scriptStrategy: *newScript(map[int]domain.Signal{0: domain.SignalBuy, 1: domain.SignalSell})}
	res := simulate(t, Config{InitialBalance: 1000}, s, barsFromCloses(10, 12, 12))

	if len(res.Trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(res.Trades))
	}
	if res.Trades[1].Quantity != 50 || res.FinalPosition.Quantity != 50 {
		t.Errorf("sold %v, holding %v, want 50 and 50", res.Trades[1].Quantity, res.FinalPosition.Quantity)
	}
	if *res.Trades[1].RealizedPnL != 100 {
		t.Errorf("realized P&L = %v, want 100", *res.Trades[1].RealizedPnL)
	}
	if got := res.UnrealizedPnL(); got != 100 {
		t.Errorf("unrealized P&L = %v, want 100", got)
	}
}

func TestSellWhenFlatIsNoop(t *testing.T) {
	s := newScript(map[int]domain.Signal{0: domain.SignalSell})
	res := simulate(t, DefaultConfig(), s, barsFromCloses(10, 11))
	if len(res.Trades) != 0 || res.SkippedOrders != 0 {
		t.Errorf("trades = %d, skipped = %d, want 0 and 0", len(res.Trades), res.SkippedOrders)
	}
}

// slippageBroker fills above the quoted price so the portfolio refuses
// buys the risk clamp sized at the quote.
type slippageBroker struct {
	*broker.SimulatorBroker
}

func (b slippageBroker) Fill(order broker.Order, bar domain.Bar) (broker.Fill, error) {
	f, err := b.SimulatorBroker.Fill(order, bar)
	f.Price *= 1.5
	return f, err
}

func TestInsufficientFundsIsSkipped(t *testing.T) {
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy, 2: domain.SignalBuy})
	res := simulate(t, Config{InitialBalance: 1000}, s, barsFromCloses(10, 10, 10),
		WithBroker(slippageBroker{broker.NewSimulatorBroker(0)}))

	if len(res.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(res.Trades))
	}
	if res.SkippedOrders != 2 {
		t.Errorf("skipped = %d, want 2", res.SkippedOrders)
	}
	if len(res.EquityCurve) != 3 {
		t.Errorf("run stopped early: %d equity points", len(res.EquityCurve))
	}
}

type runIDKey struct{}

// ctxHandler records the run ID found on the context of each record.
type ctxHandler struct {
	slog.Handler
	ids *[]string
}

func (h ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Message == "order skipped" {
		id, _ := ctx.Value(runIDKey{}).(string)
		*h.ids = append(*h.ids, id)
	}
	return nil
}

func TestSkipLogCarriesCallerContext(t *testing.T) {
	var ids []string
	log := slog.New(ctxHandler{Handler: slog.NewTextHandler(io.Discard, nil), ids: &ids})

	s := newScript(map[int]domain.Signal{0: domain.SignalBuy})
	e := mustEngine(t, Config{InitialBalance: 1000}, s, nil,
		WithBroker(slippageBroker{broker.NewSimulatorBroker(0)}), WithLogger(log))

	ctx := context.WithValue(context.Background(), runIDKey{}, "run-42")
	if _, err := e.Simulate(ctx, input(barsFromCloses(10, 10))); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(ids) != 1 || ids[0] != "run-42" {
		t.Errorf("skip records saw run IDs %q, want [run-42]", ids)
	}
}

func TestInputsAreNotMutated(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4)
	backing := append(bars[:4:4], domain.Bar{Close: 7})[:4]
	want := append([]domain.Bar(nil), backing...)

	s := &mutatingStrategy{scriptStrategy: *newScript(nil)}
	if _, err := mustEngine(t, DefaultConfig(), s, nil).Simulate(context.Background(), input(backing)); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(backing, want) {
		t.Errorf("input bars were modified: %+v", backing)
	}
	if backing[:5][4].Close != 7 {
		t.Error("strategy wrote past the end of the input slice")
	}
}

func TestOrderBookAlignment(t *testing.T) {
	books := []domain.OrderBookSnapshot{
		{Timestamp: t0.Add(90 * time.Minute), Bids: []domain.PriceLevel{{Price: 2}}},
		{Timestamp: t0.Add(30 * time.Minute), Bids: []domain.PriceLevel{{Price: 1}}},
	}
	s := newScript(nil)
	in := input(barsFromCloses(1, 1, 1, 1))
	in.OrderBooks = books

	if _, err := mustEngine(t, DefaultConfig(), s, nil).Simulate(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	wantBid := []float64{0, 1, 2, 2}
	for i, b := range s.books {
		bid, ok := b.BestBid()
		got := 0.0
		if ok {
			got = bid.Price
		}
		if got != wantBid[i] {
			t.Errorf("bar %d saw best bid %v, want %v", i, got, wantBid[i])
		}
	}
	if books[0].Timestamp.Before(books[1].Timestamp) {
		t.Error("input order books were reordered")
	}
}

// ---------------------------------------------------------------------------
// Configuration and data errors
// ---------------------------------------------------------------------------

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero balance", Config{InitialBalance: 0}},
		{"negative balance", Config{InitialBalance: -1}},
		{"negative commission", Config{InitialBalance: 100, CommissionRate: -0.001}},
		{"nan commission", Config{InitialBalance: 100, CommissionRate: math.NaN()}},
		{"position cap over 1", Config{InitialBalance: 100, MaxPositionPct: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, newScript(nil), nil); !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("New error = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
	if _, err := New(DefaultConfig(), nil, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("nil strategy error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestRunBacktestValidatesArguments(t *testing.T) {
	provider := marketdata.ProviderFunc(func(context.Context, string, domain.Timeframe, time.Time, time.Time) ([]domain.Bar, error) {
		t.Error("provider must not be called for invalid arguments")
		return nil, nil
	})
	e := mustEngine(t, DefaultConfig(), newScript(nil), provider)
	ctx := context.Background()

	cases := []struct {
		name       string
		symbol     string
		start, end time.Time
		tf         string
	}{
		{"empty symbol", "", t0, t0.Add(time.Hour), "1h"},
		{"reversed range", "BTC/USD", t0.Add(time.Hour), t0, "1h"},
		{"empty range", "BTC/USD", t0, t0, "1h"},
		{"bad timeframe", "BTC/USD", t0, t0.Add(time.Hour), "7x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.RunBacktest(ctx, c.symbol, c.start, c.end, c.tf)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("error = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestRunBacktestDataUnavailable(t *testing.T) {
	gapped := barsFromCloses(1, 2, 3)
	gapped[2].Timestamp = t0.Add(5 * time.Hour)

	tests := []struct {
		name string
		bars []domain.Bar
		err  error
	}{
		{"empty", nil, nil},
		{"gapped", gapped, nil},
		{"fetch error", nil, errors.New("upstream 503")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := marketdata.ProviderFunc(func(context.Context, string, domain.Timeframe, time.Time, time.Time) ([]domain.Bar, error) {
				return tt.bars, tt.err
			})
			e := mustEngine(t, DefaultConfig(), newScript(nil), provider)
			res, err := e.RunBacktest(context.Background(), "BTC/USD", t0, t0.Add(6*time.Hour), "1h")
			if res != nil {
				t.Error("expected no result")
			}
			if !errors.Is(err, ErrDataUnavailable) {
				t.Fatalf("error = %v, want ErrDataUnavailable", err)
			}
			var re *RunError
			if !errors.As(err, &re) || re.Symbol != "BTC/USD" || re.Timeframe != domain.Timeframe1h {
				t.Errorf("error = %v, want RunError for BTC/USD 1h", err)
			}
		})
	}

	var gapErr *marketdata.GapError
	provider := marketdata.ProviderFunc(func(context.Context, string, domain.Timeframe, time.Time, time.Time) ([]domain.Bar, error) {
		return gapped, nil
	})
	_, err := mustEngine(t, DefaultConfig(), newScript(nil), provider).RunBacktest(context.Background(), "BTC/USD", t0, t0.Add(6*time.Hour), "1h")
	if !errors.As(err, &gapErr) {
		t.Errorf("error = %v, want *marketdata.GapError in chain", err)
	}
}

func TestRunBacktest(t *testing.T) {
	bars := barsFromCloses(100, 110, 90)
	var gotStart, gotEnd time.Time
	provider := marketdata.ProviderFunc(func(_ context.Context, _ string, _ domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
		gotStart, gotEnd = start, end
		return bars, nil
	})
	s := newScript(map[int]domain.Signal{0: domain.SignalBuy, 2: domain.SignalSell})
	e := mustEngine(t, Config{InitialBalance: 10000}, s, provider)

	res, err := e.RunBacktest(context.Background(), "BTC/USD", t0, t0.Add(2*time.Hour), "1h")
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if !gotStart.Equal(t0) || !gotEnd.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("provider range = [%v, %v]", gotStart, gotEnd)
	}
	if res.Strategy != "script" || res.Symbol != "BTC/USD" || res.Timeframe != domain.Timeframe1h {
		t.Errorf("result identity = %s %s %s", res.Strategy, res.Symbol, res.Timeframe)
	}
	if res.Metrics.FinalValue != 9000 {
		t.Errorf("final value = %v, want 9000", res.Metrics.FinalValue)
	}
}
