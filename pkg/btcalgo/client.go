// Package btcalgo is a Go SDK for the btc-backtest-server HTTP API.
package btcalgo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no run with the requested ID.
var ErrNotFound = errors.New("btcalgo: not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("btcalgo: server returned %d: %s", e.StatusCode, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// BacktestRequest describes one run. Zero-valued settings use the server
// defaults.
type BacktestRequest struct {
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	Strategy        string             `json:"strategy"`
	Params          map[string]float64 `json:"params,omitempty"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	InitialBalance  float64            `json:"initial_balance,omitempty"`
	CommissionRate  *float64           `json:"commission_rate,omitempty"`
	AllowPyramiding bool               `json:"allow_pyramiding,omitempty"`
	RiskFreeRate    float64            `json:"risk_free_rate,omitempty"`
	MaxPositionPct  float64            `json:"max_position_pct,omitempty"`
}

// Trade is one simulated fill.
type Trade struct {
	Seq         int       `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Commission  float64   `json:"commission"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
}

// EquityPoint is one sample of portfolio value.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Position is the holding left open at the end of a run.
type Position struct {
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}

// Metrics are the summary statistics of a run.
type Metrics struct {
	TotalReturn    float64 `json:"total_return"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Volatility     float64 `json:"volatility"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalTrades    int     `json:"total_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	CommissionPaid float64 `json:"commission_paid"`
	FinalValue     float64 `json:"final_value"`
}

// Result is the full outcome of a run.
type Result struct {
	Symbol         string        `json:"symbol"`
	Strategy       string        `json:"strategy"`
	Timeframe      string        `json:"timeframe"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Bars           int           `json:"bars"`
	InitialBalance float64       `json:"initial_balance"`
	CommissionRate float64       `json:"commission_rate"`
	Trades         []Trade       `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	FinalCash      float64       `json:"final_cash"`
	FinalPosition  Position      `json:"final_position"`
	FinalPrice     float64       `json:"final_price"`
	SkippedOrders  int           `json:"skipped_orders"`
	Metrics        Metrics       `json:"metrics"`
}

// BacktestResponse is returned by RunBacktest.
type BacktestResponse struct {
	RunID  string  `json:"run_id,omitempty"`
	Result *Result `json:"result"`
	Report string  `json:"report"`
}

// RunSummary is one entry of ListRuns.
type RunSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Strategy    string    `json:"strategy"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TotalReturn float64   `json:"total_return"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown"`
	TotalTrades int       `json:"total_trades"`
	FinalValue  float64   `json:"final_value"`
}

// Run is a stored run with its full result.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Result    *Result   `json:"result"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client provides a Go SDK for interacting with the btc-backtest-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// RunBacktest submits a run and waits for its result.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtests", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns returns up to limit stored runs, newest first. A non-positive
// limit uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var runs []RunSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun fetches a stored run.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetReport fetches the text report of a stored run.
func (c *Client) GetReport(ctx context.Context, id string) (string, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/report", nil, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Strategies lists the strategy names the server can run.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// do sends a request and decodes the response into out. A *bytes.Buffer out
// receives the raw body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if buf, ok := out.(*bytes.Buffer); ok {
		_, err := buf.ReadFrom(resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
