package main

import (
	"fmt"
	"maps"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/report"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

func (c *cli) sweepCmd() *cobra.Command {
	var (
		f        backtestFlags
		grid     []string
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest every combination of a parameter grid over one series",
		Example: `  btc-backtest sweep --strategy sma-cross --grid short_window=5,10,20 --grid long_window=30,50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.resolve(cmd, &f)
			if err != nil {
				return err
			}
			if len(s.symbols) != 1 {
				return fmt.Errorf("sweep takes exactly one --symbol")
			}
			axes, err := parseGrid(grid)
			if err != nil {
				return err
			}
			candidates := expandGrid(s.strategy, s.params, axes)

			ctx := cmd.Context()
			p, err := app.NewProvider(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer p.Close()

			bars, err := p.FetchHistoricalData(ctx, s.symbols[0], s.timeframe, s.start, s.end)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", s.symbols[0], err)
			}

			c.log.Info("sweeping", "candidates", len(candidates), "bars", len(bars), "parallel", parallel)
			in := engine.Input{Symbol: s.symbols[0], Timeframe: s.timeframe, Bars: bars}
			results, err := engine.Sweep(ctx, app.NewRegistry(), s.engine, in, candidates, parallel, engine.WithLogger(c.log))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderSweep(results))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVar(&grid, "grid", nil, "parameter axis name=v1,v2,..., repeatable")
	cmd.Flags().IntVar(&parallel, "parallel", runtime.NumCPU(), "candidates simulated concurrently")
	return cmd
}

// gridAxis is one swept parameter.
type gridAxis struct {
	name   string
	values []float64
}

// parseGrid parses "name=v1,v2" specs.
func parseGrid(specs []string) ([]gridAxis, error) {
	axes := make([]gridAxis, 0, len(specs))
	for _, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || list == "" {
			return nil, fmt.Errorf("invalid grid %q, want name=v1,v2", spec)
		}
		ax := gridAxis{name: name}
		for _, v := range strings.Split(list, ",") {
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("grid %s: %w", name, err)
			}
			ax.values = append(ax.values, n)
		}
		axes = append(axes, ax)
	}
	return axes, nil
}

// expandGrid returns the cartesian product of axes over base, varying the
// last axis fastest.
func expandGrid(name string, base strategy.Params, axes []gridAxis) []engine.Candidate {
	out := []engine.Candidate{{Strategy: name, Params: maps.Clone(base)}}
	for _, ax := range axes {
		next := make([]engine.Candidate, 0, len(out)*len(ax.values))
		for _, c := range out {
			for _, v := range ax.values {
				p := maps.Clone(c.Params)
				if p == nil {
					p = strategy.Params{}
				}
				p[ax.name] = v
				next = append(next, engine.Candidate{Strategy: name, Params: p})
			}
		}
		out = next
	}
	return out
}
