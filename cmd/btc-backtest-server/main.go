// Command btc-backtest-server serves backtests and stored results over HTTP
// and gRPC.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ndmikkelsen/btc-algo-trader/internal/api"
	"github.com/ndmikkelsen/btc-algo-trader/internal/app"
	"github.com/ndmikkelsen/btc-algo-trader/internal/config"
)

func main() {
	cfgPath := flag.String("config", "config/btc-backtest.yaml", "config file")
	flag.Parse()

	if p := os.Getenv("BTCALGO_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := app.NewProvider(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build data provider: %v", err)
	}
	defer provider.Close()

	results, err := app.OpenResults(cfg)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer results.Close()

	svc := api.NewService(app.NewRegistry(), provider, results, cfg.EngineConfig(), api.NewMetrics(), logger)
	srv := api.NewServer(cfg.Server, svc, logger)

	slog.Info("starting btc-backtest-server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpcPort", cfg.Server.GRPCPort,
		"source", cfg.Data.Source,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
