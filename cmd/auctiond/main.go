// Maker auction daemon: converts accumulated protocol fees into the bid
// token by running one English auction per fee token.
//
// Architecture:
//
//	main.go              entry point: loads config, starts the service, waits for SIGINT/SIGTERM
//	service/service.go   orchestrator: restores state, wires engine → journal/store/stream
//	auction/engine.go    auctions: Start, PlaceBid, End, escrow accounting
//	auction/staked.go    staked counter and surplus skimming
//	amm/unwinder.go      burns held LP shares back into their underlying tokens
//	guard/rules.go       eligibility: LP-token and bid-token exclusion, whitelist
//	token/memory.go      in-process ledger with snapshot/revert
//	settler/keeper.go    ends auctions whose window has closed
//	journal/journal.go   sqlite event history
//	store/store.go       JSON snapshot of engine, ledger and pools (survives restarts)
//	api/server.go        REST + WebSocket event stream, optional EIP-712 request signing
package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"maker-auction/internal/config"
	"maker-auction/internal/service"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AUCTION_CONFIG"); p != "" {
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

	svc, err := service.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(1)
	}

	eng := svc.Engine()
	logger.Info("maker auction daemon started",
		"self", eng.Self().Hex(),
		"owner", eng.Owner().Hex(),
		"bid_token", eng.BidToken().Hex(),
		"active_auctions", len(eng.Active()),
		"settler", cfg.Settler.Enabled,
		"journal", cfg.Journal.Enabled,
	)
	if cfg.API.Enabled {
		logger.Info("api listening",
			"addr", net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
			"require_signatures", cfg.API.RequireSignatures,
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	svc.Stop()
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
