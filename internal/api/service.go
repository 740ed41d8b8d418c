// Package api exposes backtests over HTTP and gRPC: clients submit runs,
// list stored results and fetch reports. Runs are instrumented with
// Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/report"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// errBadRequest marks request errors the caller can fix.
var errBadRequest = errors.New("bad request")

// errNoResultStore is returned by run queries when persistence is disabled.
var errNoResultStore = errors.New("result store not configured")

// BacktestRequest describes one run. Zero-valued engine settings fall back
// to the service defaults.
type BacktestRequest struct {
	Symbol          string          `json:"symbol"`
	Timeframe       string          `json:"timeframe"`
	Strategy        string          `json:"strategy"`
	Params          strategy.Params `json:"params,omitempty"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	InitialBalance  float64         `json:"initial_balance,omitempty"`
	CommissionRate  *float64        `json:"commission_rate,omitempty"`
	AllowPyramiding bool            `json:"allow_pyramiding,omitempty"`
	RiskFreeRate    float64         `json:"risk_free_rate,omitempty"`
	MaxPositionPct  float64         `json:"max_position_pct,omitempty"`
}

// BacktestResponse is the outcome of a run. RunID is empty when the service
// has no result store.
type BacktestResponse struct {
	RunID  string         `json:"run_id,omitempty"`
	Result *engine.Result `json:"result"`
	Report string         `json:"report"`
}

// Service runs backtests and serves stored results. It backs both the HTTP
// handlers and the gRPC service.
type Service struct {
	registry *strategy.Registry
	data     marketdata.Provider
	results  store.ResultStore
	defaults engine.Config
	metrics  *Metrics
	log      *slog.Logger
}

// NewService creates a Service. results and metrics may be nil.
func NewService(reg *strategy.Registry, data marketdata.Provider, results store.ResultStore, defaults engine.Config, metrics *Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		registry: reg,
		data:     data,
		results:  results,
		defaults: defaults,
		metrics:  metrics,
		log:      log.With("component", "api"),
	}
}

// engineConfig merges req over the service defaults.
func (s *Service) engineConfig(req BacktestRequest) engine.Config {
	cfg := s.defaults
	if req.InitialBalance != 0 {
		cfg.InitialBalance = req.InitialBalance
	}
	if req.CommissionRate != nil {
		cfg.CommissionRate = *req.CommissionRate
	}
	if req.AllowPyramiding {
		cfg.AllowPyramiding = true
	}
	if req.RiskFreeRate != 0 {
		cfg.RiskFreeRate = req.RiskFreeRate
	}
	if req.MaxPositionPct != 0 {
		cfg.MaxPositionPct = req.MaxPositionPct
	}
	return cfg
}

// RunBacktest builds a fresh strategy, runs it and stores the result.
func (s *Service) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	if req.Strategy == "" {
		return nil, fmt.Errorf("%w: strategy is required", errBadRequest)
	}
	strat, err := s.registry.New(req.Strategy, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}

	eng, err := engine.New(s.engineConfig(req), strat, s.data, engine.WithLogger(s.log))
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := eng.RunBacktest(ctx, req.Symbol, req.Start, req.End, req.Timeframe)
	s.metrics.ObserveRun(req.Strategy, res, err, time.Since(started))
	if err != nil {
		s.log.Warn("backtest failed", "strategy", req.Strategy, "symbol", req.Symbol, "error", err)
		return nil, err
	}

	resp := &BacktestResponse{Result: res, Report: report.Render(res)}
	if s.results != nil {
		id, err := s.results.SaveRun(ctx, res)
		if err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		resp.RunID = id
	}

	s.log.Info("backtest completed",
		"strategy", res.Strategy,
		"symbol", res.Symbol,
		"trades", len(res.Trades),
		"runID", resp.RunID,
	)
	return resp, nil
}

// ListRuns returns the most recent stored runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if s.results == nil {
		return nil, errNoResultStore
	}
	return s.results.ListRuns(ctx, limit)
}

// GetRun returns one stored run.
func (s *Service) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if s.results == nil {
		return nil, errNoResultStore
	}
	return s.results.GetRun(ctx, id)
}

// Strategies lists the registered strategy names.
func (s *Service) Strategies() []string {
	return s.registry.List()
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// classify maps an error to the HTTP status and gRPC code reported to
// clients.
func classify(err error) (int, codes.Code) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, engine.ErrInvalidConfiguration):
		return http.StatusBadRequest, codes.InvalidArgument
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, codes.NotFound
	case errors.Is(err, engine.ErrDataUnavailable), errors.Is(err, engine.ErrStrategyFailure):
		return http.StatusUnprocessableEntity, codes.FailedPrecondition
	case errors.Is(err, errNoResultStore):
		return http.StatusServiceUnavailable, codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, codes.Canceled
	default:
		return http.StatusInternalServerError, codes.Internal
	}
}
