// Package builtins provides built-in strategy implementations that ship with
// the platform.
package builtins

import (
	"fmt"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// Default SMACross parameters.
const (
	DefaultShortWindow     = 20
	DefaultLongWindow      = 50
	DefaultPositionSizePct = 0.1
)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod     int
	longPeriod      int
	positionSizePct float64
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods. positionSizePct is the fraction of available
// cash committed on each buy.
func NewSMACross(short, long int, positionSizePct float64) (*SMACross, error) {
	if short < 1 || long <= short {
		return nil, fmt.Errorf("invalid SMA windows short=%d long=%d", short, long)
	}
	if positionSizePct <= 0 || positionSizePct > 1 {
		return nil, fmt.Errorf("position size pct %v outside (0, 1]", positionSizePct)
	}
	return &SMACross{
		shortPeriod:     short,
		longPeriod:      long,
		positionSizePct: positionSizePct,
	}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// GenerateSignal holds until a previous-bar value exists for both averages,
// then reports a golden cross as buy and a death cross as sell.
func (s *SMACross) GenerateSignal(bars []domain.Bar, _ *domain.OrderBookSnapshot) (domain.Signal, error) {
	n := len(bars)
	if n < s.longPeriod+1 {
		return domain.SignalHold, nil
	}

	curShort := sma(bars[:n], s.shortPeriod)
	curLong := sma(bars[:n], s.longPeriod)
	prevShort := sma(bars[:n-1], s.shortPeriod)
	prevLong := sma(bars[:n-1], s.longPeriod)

	switch {
	case prevShort <= prevLong && curShort > curLong:
		return domain.SignalBuy, nil
	case prevShort >= prevLong && curShort < curLong:
		return domain.SignalSell, nil
	default:
		return domain.SignalHold, nil
	}
}

// CalculatePositionSize commits positionSizePct of available cash on a buy.
func (s *SMACross) CalculatePositionSize(signal domain.Signal, currentPrice, availableBalance float64) float64 {
	if signal != domain.SignalBuy || currentPrice <= 0 {
		return 0
	}
	return availableBalance * s.positionSizePct / currentPrice
}

// sma returns the mean close of the last period bars.
func sma(bars []domain.Bar, period int) float64 {
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}
