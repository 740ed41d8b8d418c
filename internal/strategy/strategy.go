// Package strategy defines the Strategy capability consumed by the backtest
// engine and provides a Registry for managing multiple strategy
// implementations.
package strategy

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Strategy is the interface that all trading strategies must implement. The
// engine holds a Strategy by injection and never inspects its internal
// indicator state.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// GenerateSignal is called once per bar with every bar observed so far,
	// the current bar last, and the latest order-book snapshot at or before
	// the current bar (nil when none is available). It must depend only on
	// its inputs and on state derived from earlier bars.
	GenerateSignal(bars []domain.Bar, book *domain.OrderBookSnapshot) (domain.Signal, error)

	// CalculatePositionSize returns the quantity to trade for signal at
	// currentPrice given availableBalance in cash. The engine treats the
	// result as advisory and clamps it to what the portfolio can afford.
	CalculatePositionSize(signal domain.Signal, currentPrice, availableBalance float64) float64
}

// MultiSignalStrategy is implemented by strategies that may emit more than
// one decision on the same bar, such as a close-and-reverse. The engine
// applies SELL decisions before BUY decisions.
type MultiSignalStrategy interface {
	Strategy
	GenerateSignals(bars []domain.Bar, book *domain.OrderBookSnapshot) ([]domain.Signal, error)
}

// ExitSizer is implemented by strategies that scale out of positions. Without
// it a SELL closes the whole position.
type ExitSizer interface {
	CalculateExitSize(currentPrice, heldQuantity float64) float64
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Params carries named numeric strategy parameters, e.g. from config or a
// parameter sweep.
type Params map[string]float64

// Int returns the parameter rounded to an int, or def when it is absent.
func (p Params) Int(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return def
}

// Float returns the parameter, or def when it is absent.
func (p Params) Float(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// String renders the parameters in sorted key order.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += k + "=" + strconv.FormatFloat(p[k], 'g', -1, 64)
	}
	return s
}

// Factory builds a fresh Strategy instance from parameters. Strategies carry
// per-run state, so each backtest needs its own instance.
type Factory func(params Params) (Strategy, error)

// Registry holds a named collection of strategies and strategy factories for
// lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
	factories  map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		factories:  make(map[string]Factory),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// RegisterFactory adds a factory under name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// New builds a fresh strategy from the factory registered under name.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", name, err)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy and factory names.
func (r *Registry) List() []string {
	seen := make(map[string]struct{}, len(r.strategies)+len(r.factories))
	for name := range r.strategies {
		seen[name] = struct{}{}
	}
	for name := range r.factories {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
