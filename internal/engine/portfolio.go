package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// Portfolio is the cash, position, trade log and equity curve of one run.
// It does bookkeeping only and is owned by a single goroutine.
type Portfolio struct {
	initial  float64
	cash     float64
	position domain.Position
	trades   []domain.Trade
	equity   []domain.EquityPoint
}

// NewPortfolio returns a flat portfolio holding balance in cash.
func NewPortfolio(balance float64) *Portfolio {
	return &Portfolio{initial: balance, cash: balance}
}

// InitialBalance returns the starting cash.
func (p *Portfolio) InitialBalance() float64 { return p.initial }

// Cash returns available cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// Position returns the open position.
func (p *Portfolio) Position() domain.Position { return p.position }

// Trades returns the trade log. Callers must not modify it.
func (p *Portfolio) Trades() []domain.Trade { return p.trades }

// EquityCurve returns the recorded equity points. Callers must not modify it.
func (p *Portfolio) EquityCurve() []domain.EquityPoint { return p.equity }

// ApplyBuy debits price*qty+commission and adds qty to the position at a
// weighted-average entry price.
func (p *Portfolio) ApplyBuy(ts time.Time, price, qty, commission float64) (domain.Trade, error) {
	if err := checkOrder(price, qty, commission); err != nil {
		return domain.Trade{}, err
	}
	cost := price*qty + commission
	if cost > p.cash {
		return domain.Trade{}, fmt.Errorf("%w: buy of %v at %v costs %.8f, cash %.8f",
			ErrInsufficientFunds, qty, price, cost, p.cash)
	}

	p.cash -= cost
	pos := p.position
	if pos.IsFlat() {
		pos = domain.Position{OpenedAt: ts}
	}
	newQty := pos.Quantity + qty
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*qty) / newQty
	pos.Quantity = newQty
	pos.EntryCommission += commission
	p.position = pos

	return p.record(domain.Trade{
		Timestamp:  ts,
		Side:       domain.SideBuy,
		Price:      price,
		Quantity:   qty,
		Commission: commission,
	}), nil
}

// ApplySell credits price*qty-commission, reduces the position and records
// realized P&L. The entry commission attributed to the sold quantity is
// charged against the P&L.
func (p *Portfolio) ApplySell(ts time.Time, price, qty, commission float64) (domain.Trade, error) {
	if err := checkOrder(price, qty, commission); err != nil {
		return domain.Trade{}, err
	}
	held := p.position.Quantity
	if p.position.IsFlat() || qty > held {
		return domain.Trade{}, fmt.Errorf("%w: sell of %v, holding %v", ErrInsufficientPosition, qty, held)
	}
	proceeds := price*qty - commission
	if p.cash+proceeds < 0 {
		return domain.Trade{}, fmt.Errorf("%w: commission %.8f exceeds cash after sale", ErrInsufficientFunds, commission)
	}

	entryComm := p.position.EntryCommission
	if qty < held {
		entryComm = p.position.EntryCommission * qty / held
	}
	pnl := (price-p.position.AvgEntryPrice)*qty - entryComm - commission

	p.cash += proceeds
	if qty == held {
		p.position = domain.Position{}
	} else {
		p.position.Quantity = held - qty
		p.position.EntryCommission -= entryComm
	}

	return p.record(domain.Trade{
		Timestamp:   ts,
		Side:        domain.SideSell,
		Price:       price,
		Quantity:    qty,
		Commission:  commission,
		RealizedPnL: &pnl,
	}), nil
}

// MarkToMarket returns cash plus the position valued at price.
func (p *Portfolio) MarkToMarket(price float64) float64 {
	return p.cash + p.position.MarketValue(price)
}

// RecordEquity appends the mark-to-market value at price to the curve.
func (p *Portfolio) RecordEquity(ts time.Time, price float64) domain.EquityPoint {
	pt := domain.EquityPoint{Timestamp: ts, Value: p.MarkToMarket(price)}
	p.equity = append(p.equity, pt)
	return pt
}

func (p *Portfolio) record(t domain.Trade) domain.Trade {
	t.Seq = len(p.trades) + 1
	p.trades = append(p.trades, t)
	return t
}

func checkOrder(price, qty, commission float64) error {
	switch {
	case !(price > 0) || math.IsInf(price, 0):
		return fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	case !(qty > 0) || math.IsInf(qty, 0):
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, qty)
	case !(commission >= 0) || math.IsInf(commission, 0):
		return fmt.Errorf("%w: commission %v", ErrInvalidOrder, commission)
	}
	return nil
}
