// Command arb runs the cross-venue arbitrage bot: it watches a Serum-style
// on-chain spot market and a centralized exchange's matching market for
// the same pair, takes the DEX side with an IOC order whenever the book
// crosses net of both venues' fees, and hedges the resulting position
// back to flat on the CEX venue.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go        — orchestrator: wires transport, reference data, books/wallets, and the strategy core
//	strategy/core.go        — the take/hedge arbitrage gate: crosses books, takes, hedges
//	dex/*.go                — Solana JSON-RPC book/wallet/order-client, account batching and decoding
//	cex/*.go                — CEX REST/WS client, book/wallet/order-client
//	keystore/keystore.go    — on-disk ed25519 signer storage
//	store/store.go          — JSON file persistence for cross-venue inventory (survives restarts)
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/synthfi-arb/arb/internal/config"
	"github.com/synthfi-arb/arb/internal/engine"
)

func main() {
	cfgPath := "configs/config.json"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("arbitrage engine started",
		"pairs", len(cfg.Pairs),
		"max_usd_trade_size", cfg.Strategy.MaxUSDTradeSize,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
