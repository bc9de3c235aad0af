package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"crypto-trading-bot/internal/backtest"
	"crypto-trading-bot/internal/exchange/binance"
	"crypto-trading-bot/internal/exchange/paper"
	"crypto-trading-bot/internal/interfaces"
	"crypto-trading-bot/internal/logger"
)

func main() {
	symbols := flag.String("symbols", "BTC-USDT", "comma-separated symbols to replay")
	hours := flag.Int("hours", 6, "candle interval in hours")
	limit := flag.Int("limit", 500, "number of candles to fetch per symbol")
	source := flag.String("source", "PAPER", "candle source: PAPER or BINANCE")
	rsiLow := flag.Float64("rsi-low", 40, "entry filter RSI lower bound")
	rsiHigh := flag.Float64("rsi-high", 70, "entry filter RSI upper bound")
	flag.Parse()

	_ = godotenv.Load()
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	var ex interfaces.Exchange
	switch *source {
	case "PAPER":
		ex = paper.New("USDT", map[string]float64{"USDT": 10000}, 0.1)
	case "BINANCE":
		ex = binance.New(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"), true)
	default:
		log.Fatalf("unknown source %q", *source)
	}

	cfg := backtest.Config{IntervalHours: *hours, RSILow: *rsiLow, RSIHigh: *rsiHigh}

	fmt.Printf("%-12s %8s %8s %9s %9s %9s %9s\n",
		"SYMBOL", "WINDOWS", "PASSING", "PASS%", "AVG", "MAX", "LAST")
	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		candles, err := ex.OHLCV(ctx, symbol, *hours, *limit)
		if err != nil {
			logger.ErrorWithErr(ctx, "Candle fetch failed", err, "symbol", symbol)
			continue
		}
		summary, err := backtest.Replay(symbol, candles, cfg)
		if err != nil {
			logger.ErrorWithErr(ctx, "Replay failed", err, "symbol", symbol)
			continue
		}
		fmt.Printf("%-12s %8d %8d %8.1f%% %9.4f %9.4f %9.4f\n",
			summary.Symbol, summary.Windows, summary.Passing, summary.PassRate()*100,
			summary.AvgScore, summary.MaxScore, summary.LastScore)
	}
}
