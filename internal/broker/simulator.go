package broker

import (
	"fmt"
	"math"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. Market
// orders fill in full at the bar's close and pay a proportional commission.
type SimulatorBroker struct {
	commissionRate float64
}

// NewSimulatorBroker creates a SimulatorBroker charging commissionRate of
// notional on every fill.
func NewSimulatorBroker(commissionRate float64) *SimulatorBroker {
	return &SimulatorBroker{commissionRate: commissionRate}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// CommissionRate returns the proportional fee rate.
func (b *SimulatorBroker) CommissionRate() float64 {
	return b.commissionRate
}

// Quote returns the bar's close.
func (b *SimulatorBroker) Quote(bar domain.Bar) float64 {
	return bar.Close
}

// Commission returns commissionRate * price * quantity.
func (b *SimulatorBroker) Commission(price, quantity float64) float64 {
	return b.commissionRate * price * quantity
}

// Fill executes order at the bar's close.
func (b *SimulatorBroker) Fill(order Order, bar domain.Bar) (Fill, error) {
	price := b.Quote(bar)
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Fill{}, fmt.Errorf("%w: no valid price at %s", ErrRejected, bar.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}
	if order.Quantity <= 0 || math.IsNaN(order.Quantity) {
		return Fill{}, fmt.Errorf("%w: quantity %v", ErrRejected, order.Quantity)
	}
	return Fill{
		Side:       order.Side,
		Price:      price,
		Quantity:   order.Quantity,
		Commission: b.Commission(price, order.Quantity),
	}, nil
}
