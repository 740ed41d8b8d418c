package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/config"
	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/gather"
	"github.com/ndmikkelsen/btc-algo-trader/internal/report"
	"github.com/ndmikkelsen/btc-algo-trader/internal/store"
)

func (c *cli) fetchCmd() *cobra.Command {
	var (
		symbols    []string
		timeframes []string
		start, end string
		workers    int
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download historical bars from Alpaca into the local Parquet store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := c.cfg.Gather
			if len(symbols) == 0 {
				symbols = g.Symbols
			}
			if len(timeframes) == 0 {
				timeframes = g.Timeframes
			}
			if start == "" {
				start = g.StartDate
			}
			if workers <= 0 {
				workers = g.MaxWorkers
			}

			tfs := make([]domain.Timeframe, 0, len(timeframes))
			for _, s := range timeframes {
				tf, err := domain.ParseTimeframe(s)
				if err != nil {
					return err
				}
				tfs = append(tfs, tf)
			}
			from, to, err := config.Backtest{StartDate: start, EndDate: end}.Range(time.Now())
			if err != nil {
				return err
			}

			gatherer := gather.NewBarGatherer(
				app.NewAlpacaProvider(c.cfg),
				store.NewParquetStore(c.cfg.Storage.DataDir),
				gather.BarGathererOptions{
					Exchange:   c.cfg.Exchange,
					Symbols:    symbols,
					Timeframes: tfs,
					Start:      from,
					End:        to,
					MaxWorkers: workers,
					Logger:     c.log,
				},
			)
			if err := gatherer.Run(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range gatherer.Stats() {
				fmt.Fprintf(out, "%s %s: %d/%d bars (%.1f%%), %d gap(s)\n",
					st.Symbol, st.Timeframe, st.Bars, st.Expected, st.Coverage()*100, st.Gaps)
			}
			fmt.Fprintf(out, "stored %d bars under %s\n", gatherer.Written(), c.cfg.Storage.DataDir)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&symbols, "symbol", nil, "symbol to download, repeatable (default gather.symbols)")
	cmd.Flags().StringArrayVar(&timeframes, "timeframe", nil, "timeframe to download, repeatable (default gather.timeframes)")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (default gather.start_date)")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (default now)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent series downloads (default gather.max_workers)")
	return cmd
}

func (c *cli) bookCmd() *cobra.Command {
	var (
		symbol string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Print the latest top of book for a crypto pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if symbol == "" {
				symbol = c.cfg.Backtest.Symbol
			}
			ob, err := app.NewAlpacaProvider(c.cfg).FetchOrderBook(cmd.Context(), symbol, depth)
			if err != nil {
				return err
			}
			writeBook(cmd.OutOrStdout(), symbol, ob)
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "crypto pair (default backtest.symbol)")
	cmd.Flags().IntVar(&depth, "depth", 5, "levels per side")
	return cmd
}

func writeBook(out io.Writer, symbol string, ob *domain.OrderBookSnapshot) {
	fmt.Fprintf(out, "%s order book at %s\n", symbol, ob.Timestamp.UTC().Format(time.RFC3339))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "BID SIZE\tBID\tASK\tASK SIZE\t")
	for i := 0; i < max(len(ob.Bids), len(ob.Asks)); i++ {
		var bid, ask [2]string
		if i < len(ob.Bids) {
			bid = [2]string{fmt.Sprintf("%.6f", ob.Bids[i].Volume), report.Money(ob.Bids[i].Price)}
		}
		if i < len(ob.Asks) {
			ask = [2]string{report.Money(ob.Asks[i].Price), fmt.Sprintf("%.6f", ob.Asks[i].Volume)}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", bid[0], bid[1], ask[0], ask[1])
	}
	w.Flush()
	fmt.Fprintf(out, "Spread: %s  Mid: %s\n", report.Money(ob.Spread()), report.Money(ob.Mid()))
}
