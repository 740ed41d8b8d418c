package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/report"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
)

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored backtest runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := app.OpenResults(c.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			runs, err := rs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func writeRuns(out io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no stored runs")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTRATEGY\tSYMBOL\tTF\tRETURN\tSHARPE\tMAX DD\tTRADES\tFINAL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%s\t%d\t%s\n",
			r.ID,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.Strategy,
			r.Symbol,
			r.Timeframe,
			report.Percent(r.TotalReturn),
			r.SharpeRatio,
			report.Percent(r.MaxDrawdown),
			r.TotalTrades,
			report.Money(r.FinalValue),
		)
	}
	w.Flush()
}

func (c *cli) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := app.OpenResults(c.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			run, err := rs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading run %s: %w", args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(run.Result))
			return nil
		},
	}
}
