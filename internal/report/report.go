// Package report renders backtest results as plain text.
package report

import (
	"fmt"
	"math"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
)

const periodLayout = "2006-01-02 15:04"

var printer = message.NewPrinter(language.English)

// Render formats res as the standard backtest report.
func Render(res *engine.Result) string {
	if res == nil {
		return "No backtest results available. Run a backtest first.\n"
	}
	m := res.Metrics

	var b strings.Builder
	b.WriteString("=== BACKTEST REPORT ===\n")
	fmt.Fprintf(&b, "Strategy: %s\n", res.Strategy)
	fmt.Fprintf(&b, "Symbol: %s\n", res.Symbol)
	fmt.Fprintf(&b, "Period: %s to %s\n", res.Start.UTC().Format(periodLayout), res.End.UTC().Format(periodLayout))
	fmt.Fprintf(&b, "Timeframe: %s\n", res.Timeframe)

	b.WriteString("\n=== PERFORMANCE METRICS ===\n")
	fmt.Fprintf(&b, "Initial Balance: %s\n", Money(res.InitialBalance))
	fmt.Fprintf(&b, "Final Portfolio Value: %s\n", Money(m.FinalValue))
	fmt.Fprintf(&b, "Total Return: %s\n", Percent(m.TotalReturn))
	fmt.Fprintf(&b, "Max Drawdown: %s\n", Percent(m.MaxDrawdown))
	fmt.Fprintf(&b, "Sharpe Ratio: %.3f\n", m.SharpeRatio)

	b.WriteString("\n=== TRADING METRICS ===\n")
	fmt.Fprintf(&b, "Total Trades: %d\n", m.TotalTrades)
	fmt.Fprintf(&b, "Win Rate: %s\n", Percent(m.WinRate))
	fmt.Fprintf(&b, "Commission Paid: %s\n", Money(m.CommissionPaid))
	fmt.Fprintf(&b, "Unrealized P&L: %s\n", Money(res.UnrealizedPnL()))
	if res.SkippedOrders > 0 {
		fmt.Fprintf(&b, "Skipped Orders: %d\n", res.SkippedOrders)
	}

	b.WriteString("\n=== CURRENT POSITIONS ===\n")
	if pos := res.FinalPosition; pos.IsFlat() {
		b.WriteString("none\n")
	} else {
		fmt.Fprintf(&b, "%s: %.6f @ %s\n", res.Symbol, pos.Quantity, Money(pos.AvgEntryPrice))
	}
	return b.String()
}

// RenderSweep formats sweep results as an aligned table, one row per
// candidate in input order.
func RenderSweep(results []engine.SweepResult) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CANDIDATE\tRETURN\tSHARPE\tMAX DD\tTRADES\tWIN RATE\tFINAL VALUE")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s\terror: %v\t\t\t\t\t\n", r.Candidate, r.Err)
			continue
		}
		m := r.Result.Metrics
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%d\t%s\t%s\n",
			r.Candidate, Percent(m.TotalReturn), m.SharpeRatio, Percent(m.MaxDrawdown),
			m.TotalTrades, Percent(m.WinRate), Money(m.FinalValue))
	}
	w.Flush()
	return b.String()
}

// Money formats v as dollars with thousands separators, e.g. $10,000.00.
func Money(v float64) string {
	if v < 0 {
		return "-" + printer.Sprintf("$%.2f", math.Abs(v))
	}
	return printer.Sprintf("$%.2f", v)
}

// Percent formats a fraction as a percentage, e.g. -0.1 as -10.00%.
func Percent(v float64) string {
	return printer.Sprintf("%.2f%%", v*100)
}
