package engine

import (
	"math"
)

// Default engine parameters.
const (
	DefaultInitialBalance = 10000.0
	DefaultCommissionRate = 0.001
)

// Config holds the scalar parameters of a backtest. It is consumed once at
// engine construction; the engine never reads the environment.
type Config struct {
	InitialBalance float64 `json:"initial_balance"`
	CommissionRate float64 `json:"commission_rate"`
	// AllowPyramiding lets BUY signals add to an open position.
	AllowPyramiding bool `json:"allow_pyramiding"`
	// RiskFreeRate is the annual rate used by the Sharpe ratio.
	RiskFreeRate float64 `json:"risk_free_rate"`
	// MaxPositionPct caps position value as a fraction of equity; 0 disables.
	MaxPositionPct float64 `json:"max_position_pct,omitempty"`
}

// DefaultConfig returns a Config with a 10,000 balance and 0.1% commission.
func DefaultConfig() Config {
	return Config{
		InitialBalance: DefaultInitialBalance,
		CommissionRate: DefaultCommissionRate,
	}
}

// Validate checks c and returns an error wrapping ErrInvalidConfiguration.
func (c Config) Validate() error {
	if math.IsNaN(c.InitialBalance) || math.IsInf(c.InitialBalance, 0) || c.InitialBalance <= 0 {
		return invalidConfig("initial balance must be positive, got %v", c.InitialBalance)
	}
	if math.IsNaN(c.CommissionRate) || math.IsInf(c.CommissionRate, 0) || c.CommissionRate < 0 {
		return invalidConfig("commission rate must be non-negative, got %v", c.CommissionRate)
	}
	if math.IsNaN(c.RiskFreeRate) || math.IsInf(c.RiskFreeRate, 0) {
		return invalidConfig("risk-free rate must be finite, got %v", c.RiskFreeRate)
	}
	if math.IsNaN(c.MaxPositionPct) || c.MaxPositionPct < 0 || c.MaxPositionPct > 1 {
		return invalidConfig("max position pct must be in [0, 1], got %v", c.MaxPositionPct)
	}
	return nil
}
