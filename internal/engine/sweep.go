package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// Candidate is one strategy configuration in a parameter sweep.
type Candidate struct {
	Strategy string          `json:"strategy"`
	Params   strategy.Params `json:"params"`
}

func (c Candidate) String() string {
	return c.Strategy + "(" + c.Params.String() + ")"
}

// SweepResult pairs a candidate with its outcome. Exactly one of Result and
// Err is set.
type SweepResult struct {
	Candidate Candidate
	Result    *Result
	Err       error
}

// Sweep simulates every candidate over the same input, each on its own
// engine and strategy instance, at most parallelism at a time. Results are
// returned in candidate order. A failing candidate does not stop the others;
// only cancellation of ctx aborts the sweep.
func Sweep(ctx context.Context, reg *strategy.Registry, cfg Config, in Input, candidates []Candidate, parallelism int, opts ...Option) ([]SweepResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	out := make([]SweepResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, c := range candidates {
		g.Go(func() error {
			out[i].Candidate = c
			if err := gctx.Err(); err != nil {
				return err
			}

			strat, err := reg.New(c.Strategy, c.Params)
			if err != nil {
				out[i].Err = err
				return nil
			}
			e, err := New(cfg, strat, nil, opts...)
			if err != nil {
				out[i].Err = err
				return nil
			}
			res, err := e.Simulate(gctx, in)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out[i].Err = fmt.Errorf("candidate %s: %w", c, err)
				return nil
			}
			out[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sweep aborted: %w", err)
	}
	return out, nil
}
