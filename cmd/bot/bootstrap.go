package main

import (
	"context"
	"fmt"
	"os"

	"crypto-trading-bot/internal/exchange/binance"
	"crypto-trading-bot/internal/exchange/exchangeobs"
	"crypto-trading-bot/internal/exchange/paper"
	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
	"crypto-trading-bot/internal/store"
	"crypto-trading-bot/internal/trace"
	"crypto-trading-bot/internal/tradelog"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger, and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("BOT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old tradelog files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializeExchange initializes the exchange adapter with observability
func initializeExchange(ctx context.Context, cfg *store.Config) interfaces.Exchange {
	var ex interfaces.Exchange
	switch cfg.Exchange {
	case "PAPER":
		ex = paper.New(cfg.Quote, map[string]float64{cfg.Quote: 10000}, cfg.Risk.TakerFeePct)
		logger.Info(ctx, "Using in-memory paper exchange")
	default:
		dryRun := cfg.Mode == "DRY_RUN"
		ex = binance.New(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), dryRun)
		logger.Info(ctx, "Using Binance adapter", "dry_run", dryRun)
	}

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}

	// Wrap with observability middleware
	return exchangeobs.Wrap(ex)
}
