package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/marketdata"
	"github.com/ndmikkelsen/btc-algo-trader/internal/report"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// backtestFlags override the backtest and strategy sections of the config.
type backtestFlags struct {
	symbols    []string
	timeframe  string
	start      string
	end        string
	strategy   string
	params     map[string]string
	balance    float64
	commission float64
	pyramiding bool
}

func (f *backtestFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVar(&f.symbols, "symbol", nil, "symbol to test, repeatable (default backtest.symbol)")
	fl.StringVar(&f.timeframe, "timeframe", "", "bar timeframe, e.g. 1h")
	fl.StringVar(&f.start, "start", "", "start date YYYY-MM-DD")
	fl.StringVar(&f.end, "end", "", "end date YYYY-MM-DD")
	fl.StringVar(&f.strategy, "strategy", "", "strategy name")
	fl.StringToStringVar(&f.params, "param", nil, "strategy parameter name=value, repeatable")
	fl.Float64Var(&f.balance, "balance", 0, "initial balance")
	fl.Float64Var(&f.commission, "commission", 0, "commission rate per trade")
	fl.BoolVar(&f.pyramiding, "pyramiding", false, "allow buys while holding a position")
}

// setup is a resolved backtest invocation.
type setup struct {
	symbols   []string
	timeframe domain.Timeframe
	start     time.Time
	end       time.Time
	strategy  string
	params    strategy.Params
	engine    engine.Config
}

// resolve merges the flags over the loaded configuration.
func (c *cli) resolve(cmd *cobra.Command, f *backtestFlags) (*setup, error) {
	bt := &c.cfg.Backtest
	changed := cmd.Flags().Changed
	if f.timeframe != "" {
		bt.Timeframe = f.timeframe
	}
	if f.start != "" {
		bt.StartDate = f.start
	}
	if f.end != "" {
		bt.EndDate = f.end
	}
	if changed("balance") {
		bt.InitialBalance = f.balance
	}
	if changed("commission") {
		bt.CommissionRate = f.commission
	}
	if changed("pyramiding") {
		bt.AllowPyramiding = f.pyramiding
	}

	tf, err := domain.ParseTimeframe(bt.Timeframe)
	if err != nil {
		return nil, err
	}
	start, end, err := bt.Range(time.Now())
	if err != nil {
		return nil, err
	}

	s := &setup{
		symbols:   f.symbols,
		timeframe: tf,
		start:     start,
		end:       end,
		strategy:  c.cfg.Strategy.Name,
		params:    strategy.Params{},
		engine:    c.cfg.EngineConfig(),
	}
	if len(s.symbols) == 0 {
		s.symbols = []string{bt.Symbol}
	}
	// Configured params only apply to the configured strategy.
	if f.strategy != "" && f.strategy != s.strategy {
		s.strategy = f.strategy
	} else {
		maps.Copy(s.params, c.cfg.Strategy.Params)
	}
	for k, v := range f.params {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		s.params[k] = n
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (c *cli) runCmd() *cobra.Command {
	var (
		f       backtestFlags
		save    bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest and print its report",
		Example: `  btc-backtest run --symbol BTC/USD --timeframe 1h --start 2024-01-01 --end 2024-03-01
  btc-backtest run --strategy sma-cross --param short_window=10 --param long_window=30`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.resolve(cmd, &f)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), cmd.OutOrStdout(), s, save, jsonOut)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&save, "save", true, "store the run in the result database")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON instead of the text report")
	return cmd
}

func (c *cli) run(ctx context.Context, out io.Writer, s *setup, save, jsonOut bool) error {
	p, err := app.NewProvider(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer p.Close()

	reqs := make([]marketdata.Request, len(s.symbols))
	for i, sym := range s.symbols {
		reqs[i] = marketdata.Request{Symbol: sym, Timeframe: s.timeframe, Start: s.start, End: s.end}
	}
	series, err := marketdata.Prefetch(ctx, p, reqs, c.cfg.Data.PrefetchConcurrency)
	if err != nil {
		return err
	}

	var results store.ResultStore
	if save {
		rs, err := app.OpenResults(c.cfg)
		if err != nil {
			return err
		}
		defer rs.Close()
		results = rs
	}

	reg := app.NewRegistry()
	for _, req := range reqs {
		res, err := c.runOne(ctx, reg, s, req, series[req.Key()])
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
		} else {
			fmt.Fprint(out, report.Render(res))
		}

		if results != nil {
			id, err := results.SaveRun(ctx, res)
			if err != nil {
				return err
			}
			c.log.Info("run saved", "id", id, "symbol", res.Symbol)
			if !jsonOut {
				fmt.Fprintf(out, "\nRun ID: %s\n", id)
			}
		}
	}
	return nil
}

// runOne backtests one prefetched series with a fresh strategy instance.
func (c *cli) runOne(ctx context.Context, reg *strategy.Registry, s *setup, req marketdata.Request, bars []domain.Bar) (*engine.Result, error) {
	strat, err := reg.New(s.strategy, s.params)
	if err != nil {
		return nil, err
	}
	data := marketdata.ProviderFunc(func(context.Context, string, domain.Timeframe, time.Time, time.Time) ([]domain.Bar, error) {
		return bars, nil
	})
	eng, err := engine.New(s.engine, strat, data, engine.WithLogger(c.log))
	if err != nil {
		return nil, err
	}
	return eng.RunBacktest(ctx, req.Symbol, req.Start, req.End, string(req.Timeframe))
}
