// Package performance derives summary statistics from a backtest's equity
// curve and trade log.
package performance

import (
	"math"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
)

// flatTolerance is the standard deviation below which a return series is
// treated as flat.
const flatTolerance = 1e-12

// Input is everything Calculate needs. It is read, never modified.
type Input struct {
	InitialBalance float64
	Timeframe      domain.Timeframe
	// RiskFreeRate is an annual rate subtracted from per-bar returns before
	// computing the Sharpe ratio. Zero gives the plain mean/stdev ratio.
	RiskFreeRate float64
	EquityCurve  []domain.EquityPoint
	Trades       []domain.Trade
}

// Metrics holds the summary statistics of one run. Ratios are fractions:
// a 10% loss is -0.10.
type Metrics struct {
	TotalReturn    float64 `json:"total_return"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	Volatility     float64 `json:"volatility"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalTrades    int     `json:"total_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	CommissionPaid float64 `json:"commission_paid"`
	FinalValue     float64 `json:"final_value"`
}

// Calculate computes Metrics from in. It is deterministic and has no hidden
// state.
func Calculate(in Input) Metrics {
	m := Metrics{
		FinalValue:  in.InitialBalance,
		TotalTrades: len(in.Trades),
	}
	if n := len(in.EquityCurve); n > 0 {
		m.FinalValue = in.EquityCurve[n-1].Value
	}
	if in.InitialBalance > 0 {
		m.TotalReturn = (m.FinalValue - in.InitialBalance) / in.InitialBalance
	}

	returns := Returns(in.EquityCurve)
	periods := in.Timeframe.PeriodsPerYear()
	m.SharpeRatio = SharpeRatio(returns, periods, in.RiskFreeRate)
	m.Volatility = Volatility(returns, periods)
	m.MaxDrawdown = MaxDrawdown(in.EquityCurve)

	var grossWin, grossLoss float64
	for _, t := range in.Trades {
		m.CommissionPaid += t.Commission
		if !t.Closed() {
			continue
		}
		m.ClosedTrades++
		pnl := *t.RealizedPnL
		switch {
		case pnl > 0:
			m.WinningTrades++
			grossWin += pnl
		case pnl < 0:
			grossLoss -= pnl
		}
	}
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}

	return m
}

// Returns converts an equity curve into per-bar simple returns. A point
// following a non-positive value contributes a zero return.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev > 0 {
			out[i-1] = (curve[i].Value - prev) / prev
		}
	}
	return out
}

// SharpeRatio annualizes mean excess return over sample standard deviation.
// It returns 0 for fewer than two returns or a flat series.
func SharpeRatio(returns []float64, periodsPerYear, riskFreeRate float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	mean, sd := meanStdDev(returns)
	if sd < flatTolerance {
		return 0
	}
	return (mean - riskFreeRate/periodsPerYear) / sd * math.Sqrt(periodsPerYear)
}

// Volatility is the annualized sample standard deviation of returns.
func Volatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	_, sd := meanStdDev(returns)
	return sd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown scans the curve once with a running peak and returns the
// deepest (value - peak) / peak, which is always <= 0.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Value
	worst := 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.Value - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

// meanStdDev returns the mean and the sample (n-1) standard deviation.
func meanStdDev(xs []float64) (float64, float64) {
	n := float64(len(xs))
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / n

	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}
