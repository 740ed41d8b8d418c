package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

var (
	// ErrDataUnavailable means the data source returned no usable series for
	// the requested range: empty, unsorted, duplicated or gapped.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInvalidConfiguration is returned before simulation starts for a bad
	// balance, commission rate, symbol, timeframe or date range.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInsufficientFunds means a buy costs more than available cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPosition means a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrInvalidOrder means a trade had a non-positive price or quantity.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrStrategyFailure means the strategy returned an error or panicked.
	ErrStrategyFailure = errors.New("strategy failure")
)

// StrategyError identifies the bar on which a strategy failed.
type StrategyError struct {
	Strategy  string
	Symbol    string
	Timestamp time.Time
	BarIndex  int
	Err       error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s failed on %s bar %d at %s: %v",
		e.Strategy, e.Symbol, e.BarIndex, e.Timestamp.UTC().Format(time.RFC3339), e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStrategyFailure) match every StrategyError.
func (e *StrategyError) Is(target error) bool { return target == ErrStrategyFailure }

// RunError carries the symbol and timeframe of a failed run.
type RunError struct {
	Symbol    string
	Timeframe domain.Timeframe
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("backtest %s %s: %v", e.Symbol, e.Timeframe, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
