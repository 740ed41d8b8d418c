// Command btc-backtest runs strategy backtests from the command line,
// downloads historical bars and inspects stored runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/config"
)

const version = "0.1.0"

const defaultConfigPath = "config/btc-backtest.yaml"

// cli carries state shared by every subcommand.
type cli struct {
	cfgPath  string
	logLevel string

	cfg *config.Config
	log *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "btc-backtest",
		Short:         "Backtest trading strategies on historical crypto bars",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "config file (default "+defaultConfigPath+" or $BTCALGO_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		c.runCmd(),
		c.sweepCmd(),
		c.fetchCmd(),
		c.bookCmd(),
		c.runsCmd(),
		c.reportCmd(),
		versionCmd(),
	)
	return root
}

// load reads the configuration. A missing default config file is not an
// error; an explicitly requested one is.
func (c *cli) load(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	path, explicit := c.cfgPath, c.cfgPath != ""
	if !explicit {
		if p := os.Getenv("BTCALGO_CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = defaultConfigPath
		}
	}
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	c.cfg = cfg
	c.log = app.NewLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(c.log)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "btc-backtest %s\n", version)
		},
	}
}
