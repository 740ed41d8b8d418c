package builtins

import (
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// Register adds factories for every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.RegisterFactory("sma-cross", func(p strategy.Params) (strategy.Strategy, error) {
		return NewSMACross(
			p.Int("short_window", DefaultShortWindow),
			p.Int("long_window", DefaultLongWindow),
			p.Float("position_size_pct", DefaultPositionSizePct),
		)
	})
	r.RegisterFactory("buy-and-hold", func(p strategy.Params) (strategy.Strategy, error) {
		return NewBuyAndHold(p.Float("position_size_pct", 1))
	})
}
