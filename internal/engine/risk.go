package engine

import (
	"math"
)

// CommissionFunc returns the fee for trading qty at price.
type CommissionFunc func(price, qty float64) float64

// RiskManager turns a strategy's advisory buy size into one the portfolio
// can afford, commission included.
type RiskManager struct {
	commissionRate float64
	// maxPositionPct caps the position's value as a fraction of equity.
	// Zero means no cap.
	maxPositionPct float64
}

// NewRiskManager creates a RiskManager for a proportional commissionRate.
// maxPositionPct of zero disables the position cap.
func NewRiskManager(commissionRate, maxPositionPct float64) *RiskManager {
	return &RiskManager{
		commissionRate: commissionRate,
		maxPositionPct: maxPositionPct,
	}
}

// BuyRequest is the state a buy is sized against.
type BuyRequest struct {
	Quantity     float64
	Price        float64
	Cash         float64
	Equity       float64
	HeldQuantity float64
}

// ClampBuy returns a quantity in [0, req.Quantity] whose cost plus
// commission never exceeds req.Cash. NaN or negative requests give 0.
func (rm *RiskManager) ClampBuy(req BuyRequest, commission CommissionFunc) float64 {
	qty := req.Quantity
	if math.IsNaN(qty) || qty <= 0 || !(req.Price > 0) || !(req.Cash > 0) {
		return 0
	}

	affordable := req.Cash / (req.Price * (1 + rm.commissionRate))
	qty = math.Min(qty, affordable)

	if rm.maxPositionPct > 0 && req.Equity > 0 {
		room := (req.Equity*rm.maxPositionPct - req.HeldQuantity*req.Price) / req.Price
		qty = math.Min(qty, room)
	}
	if qty <= 0 {
		return 0
	}

	// Rounding in the division above can leave the cost a few ulps over.
	for i := 0; buyCost(req.Price, qty, commission) > req.Cash; i++ {
		if i > 64 {
			return 0
		}
		if i < 4 {
			qty = math.Nextafter(qty, 0)
		} else {
			qty *= 0.999
		}
	}
	return qty
}

func buyCost(p, qty float64, commission CommissionFunc) float64 {
	return p*qty + commission(p, qty)
}
