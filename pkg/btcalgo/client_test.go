package btcalgo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/api"
	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy/builtins"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := strategy.NewRegistry()
	builtins.Register(reg)

	provider := marketdata.ProviderFunc(func(_ context.Context, symbol string, _ domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
		var bars []domain.Bar
		px := 200.0
		for ts := start; !ts.After(end); ts = ts.Add(24 * time.Hour) {
			bars = append(bars, domain.Bar{Symbol: symbol, Timestamp: ts, Open: px, High: px, Low: px, Close: px})
			px -= 1
		}
		return bars, nil
	})

	results, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { results.Close() })

	svc := api.NewService(reg, provider, results, engine.DefaultConfig(), nil, nil)
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	c := NewClient(newServer(t).URL)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	resp, err := c.RunBacktest(ctx, BacktestRequest{
		Symbol:    "BTC/USD",
		Timeframe: "1d",
		Strategy:  "buy-and-hold",
		Start:     start,
		End:       start.AddDate(0, 0, 9),
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if resp.RunID == "" || resp.Result == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Result.Bars != 10 || len(resp.Result.EquityCurve) != 10 {
		t.Errorf("bars = %d, equity = %d, want 10", resp.Result.Bars, len(resp.Result.EquityCurve))
	}
	if resp.Result.Metrics.TotalReturn >= 0 {
		t.Errorf("TotalReturn = %v, want a loss on falling prices", resp.Result.Metrics.TotalReturn)
	}

	runs, err := c.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != resp.RunID || runs[0].Timeframe != "1d" {
		t.Fatalf("runs = %+v", runs)
	}

	run, err := c.GetRun(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Result.Metrics.FinalValue != resp.Result.Metrics.FinalValue {
		t.Errorf("stored FinalValue = %v, want %v", run.Result.Metrics.FinalValue, resp.Result.Metrics.FinalValue)
	}

	text, err := c.GetReport(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !strings.Contains(text, "Strategy: buy-and-hold") {
		t.Errorf("report:\n%s", text)
	}

	names, err := c.Strategies(ctx)
	if err != nil {
		t.Fatalf("Strategies: %v", err)
	}
	if len(names) == 0 {
		t.Error("expected registered strategies")
	}
}

func TestClientErrors(t *testing.T) {
	c := NewClient(newServer(t).URL)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) = %v, want ErrNotFound", err)
	}

	_, err = c.RunBacktest(ctx, BacktestRequest{Symbol: "BTC/USD", Timeframe: "1d", Strategy: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("RunBacktest error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || !strings.Contains(apiErr.Message, "nope") {
		t.Errorf("APIError = %+v", apiErr)
	}
}
