package builtins

import (
	"fmt"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/strategy"
)

var _ strategy.Strategy = (*BuyAndHold)(nil)

// BuyAndHold buys on the first bar and holds to the end. It is the usual
// benchmark for other strategies.
type BuyAndHold struct {
	positionSizePct float64
}

// NewBuyAndHold creates a BuyAndHold committing positionSizePct of cash.
func NewBuyAndHold(positionSizePct float64) (*BuyAndHold, error) {
	if positionSizePct <= 0 || positionSizePct > 1 {
		return nil, fmt.Errorf("position size pct %v outside (0, 1]", positionSizePct)
	}
	return &BuyAndHold{positionSizePct: positionSizePct}, nil
}

// Name returns "buy-and-hold".
func (s *BuyAndHold) Name() string { return "buy-and-hold" }

// GenerateSignal returns buy on the first bar and hold afterwards.
func (s *BuyAndHold) GenerateSignal(bars []domain.Bar, _ *domain.OrderBookSnapshot) (domain.Signal, error) {
	if len(bars) == 1 {
		return domain.SignalBuy, nil
	}
	return domain.SignalHold, nil
}

// CalculatePositionSize commits positionSizePct of available cash on a buy.
func (s *BuyAndHold) CalculatePositionSize(signal domain.Signal, currentPrice, availableBalance float64) float64 {
	if signal != domain.SignalBuy || currentPrice <= 0 {
		return 0
	}
	return availableBalance * s.positionSizePct / currentPrice
}
