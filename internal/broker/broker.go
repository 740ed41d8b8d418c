// Package broker defines the Broker interface the backtest engine executes
// orders through, and a simulator that fills them against historical bars.
package broker

import (
	"errors"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// ErrRejected is returned when a broker cannot fill an order at all.
var ErrRejected = errors.New("order rejected")

// Order is a market order to trade Quantity units on Side.
type Order struct {
	Side     domain.Side
	Quantity float64
}

// Fill describes how an order executed.
type Fill struct {
	Side       domain.Side
	Price      float64
	Quantity   float64
	Commission float64
}

// Cost returns the cash that leaves the account for a buy fill, or enters it
// for a sell fill.
func (f Fill) Cost() float64 {
	if f.Side == domain.SideBuy {
		return f.Price*f.Quantity + f.Commission
	}
	return f.Price*f.Quantity - f.Commission
}

// Broker abstracts order execution for the engine.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Quote returns the price an order placed on bar would fill at.
	Quote(bar domain.Bar) float64

	// Commission returns the fee charged for trading quantity at price.
	Commission(price, quantity float64) float64

	// Fill executes order against bar.
	Fill(order Order, bar domain.Bar) (Fill, error)
}
