// Package domain defines the core value types shared across the backtesting
// platform: bars, order-book snapshots, signals, trades and positions.
package domain

import (
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV record for a fixed time interval. Bars are produced
// by market-data adapters and are never mutated after creation.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// PriceLevel is one (price, volume) entry on one side of an order book.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBookSnapshot is a point-in-time view of the order book. Bids are
// ordered best (highest) first, asks best (lowest) first.
type OrderBookSnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// BestBid returns the top bid level and whether one exists.
func (ob *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if ob == nil || len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the top ask level and whether one exists.
func (ob *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if ob == nil || len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}

// Spread returns best ask minus best bid, or 0 when either side is empty.
func (ob *OrderBookSnapshot) Spread() float64 {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return ask.Price - bid.Price
}

// Mid returns the midpoint between best bid and best ask, or 0 when either
// side is empty.
func (ob *OrderBookSnapshot) Mid() float64 {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (ask.Price + bid.Price) / 2
}

// ---------------------------------------------------------------------------
// Decisions and executions
// ---------------------------------------------------------------------------

// Signal is the trading decision a strategy emits for a bar.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Valid reports whether s is one of the known signal values.
func (s Signal) Valid() bool {
	switch s {
	case SignalBuy, SignalSell, SignalHold:
		return true
	}
	return false
}

// Side is the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single executed fill. It is created exactly once per executed
// decision and appended to the run's trade log. RealizedPnL is nil for
// entries and set on exits.
type Trade struct {
	Seq         int       `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Side        Side      `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Commission  float64   `json:"commission"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
}

// Closed reports whether the trade realized P&L (i.e. it reduced a position).
func (t Trade) Closed() bool {
	return t.RealizedPnL != nil
}

// Notional returns price * quantity.
func (t Trade) Notional() float64 {
	return t.Price * t.Quantity
}

// Position is a long-only holding in a single symbol. A zero quantity means
// the portfolio is flat. EntryCommission is the buy-side commission
// attributable to the quantity still held.
type Position struct {
	Quantity        float64   `json:"quantity"`
	AvgEntryPrice   float64   `json:"avg_entry_price"`
	EntryCommission float64   `json:"entry_commission"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Quantity <= 0
}

// MarketValue returns quantity * price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// UnrealizedPnL returns the mark-to-market gain of the open quantity at price,
// before exit commission.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.IsFlat() {
		return 0
	}
	return (price - p.AvgEntryPrice) * p.Quantity
}

// EquityPoint is one sample of total portfolio value.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
