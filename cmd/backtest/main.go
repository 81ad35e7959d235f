// cmd/backtest runs the SMA crossover backtest over stored candles, from the
// SQLite candle store or a CSV file, and prints the resulting balance and
// trades.
//
// In replay mode the candles are fed through the live streaming pipeline
// instead of the batch rule, so the streaming strategies can be checked
// against the same data.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=BTCUSDT --interval=1m --window=50
//	go run ./cmd/backtest --csv=data/SPY.csv --balance=10000
//	go run ./cmd/backtest --replay --strategies=sma_crossover,rsi_divergence --speed=0
//	go run ./cmd/backtest --list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trading-signals/internal/backtest"
	"trading-signals/internal/marketdata/replay"
	"trading-signals/internal/model"
	sqlitestore "trading-signals/internal/store/sqlite"
	"trading-signals/internal/strategy"
	"trading-signals/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	csvPath := flag.String("csv", "", "Read candles from a CSV file instead of SQLite")
	exchangeName := flag.String("exchange", "binance", "Exchange of the stored stream")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol of the stored stream")
	interval := flag.String("interval", "1m", "Candle interval of the stored stream")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start from (0=all)")
	limit := flag.Int("limit", 0, "Use only the most recent N candles (0=all)")
	window := flag.Int("window", strategy.DefaultSMAWindow, "SMA window of the crossover rule")
	balance := flag.Float64("balance", backtest.DefaultInitialBalance, "Initial balance")
	replayMode := flag.Bool("replay", false, "Feed candles through the streaming pipeline")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime, 100=100x)")
	strategies := flag.String("strategies", strategy.NameSMACrossover, "Comma-separated streaming strategies for --replay")
	list := flag.Bool("list", false, "List the streams stored in SQLite and exit")
	flag.Parse()

	if *list {
		listStreams(*dbPath)
		return
	}
	if *window < 1 {
		log.Fatalf("[backtest] --window must be at least 1, got %d", *window)
	}

	inst := model.Instrument{
		Exchange: strings.ToLower(*exchangeName),
		Symbol:   strings.ToUpper(*symbol),
		Interval: *interval,
	}
	if _, err := inst.Width(); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// Open candle source
	var reader model.CandleReader
	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		candles, err := replay.ReadCSV(f)
		f.Close()
		if err != nil {
			log.Fatalf("[backtest] %s: %v", *csvPath, err)
		}
		reader = replay.NewMemoryReader(candles)
	} else {
		r, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		reader = r
	}
	defer reader.Close()

	series, err := reader.ReadCandles(inst, *fromTS, *limit)
	if err != nil {
		log.Fatalf("[backtest] read candles: %v", err)
	}
	if len(series) == 0 {
		log.Fatalf("[backtest] no candles for %s", inst.Key())
	}
	if err := strategy.CheckOrdered(series); err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	start := time.Now()
	var signals []model.Signal
	mode := "batch"
	if *replayMode {
		mode = "replay"
		params := strategy.DefaultParams()
		params.SMAWindow = *window
		signals, err = replaySignals(ctx, inst, series, params, splitList(*strategies), *speed)
		if err != nil {
			log.Fatalf("[backtest] replay: %v", err)
		}
	} else {
		signals = strategy.Crossover(series, *window)
	}

	buys, sells := strategy.Split(signals)
	res, err := backtest.Run(buys, sells, series, *balance)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	for _, tr := range res.Trades {
		tag := ""
		if tr.Forced {
			tag = " (closed at last candle)"
		}
		fmt.Printf("  %s BUY %-12.8g → %s SELL %-12.8g  pnl %+.8g%s\n",
			stamp(tr.EntryTime), tr.EntryPrice, stamp(tr.ExitTime), tr.ExitPrice, tr.PnL, tag)
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Stream:          %-18s ║\n", inst.Key())
	fmt.Printf("║  Mode:            %-18s ║\n", mode)
	fmt.Printf("║  Candles:         %-18d ║\n", len(series))
	fmt.Printf("║  Signals:         %-18s ║\n", fmt.Sprintf("%d buy / %d sell", len(buys), len(sells)))
	fmt.Printf("║  Trades:          %-18d ║\n", len(res.Trades))
	fmt.Printf("║  Initial balance: %-18.2f ║\n", *balance)
	fmt.Printf("║  Final balance:   %-18.2f ║\n", res.FinalBalance)
	fmt.Printf("║  Took:            %-18v ║\n", time.Since(start).Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

// replaySignals streams series through a live session and collects the
// signals its strategies raise.
func replaySignals(ctx context.Context, inst model.Instrument, series []model.Candle,
	params strategy.Params, names []string, speed float64) ([]model.Signal, error) {
	opts := stream.DefaultOptions()
	opts.Strategies = names
	opts.Params = params

	feed := replay.New(replay.NewMemoryReader(series), 0, speed)
	sess, err := stream.NewSession(inst, feed, nil, opts)
	if err != nil {
		return nil, err
	}

	var signals []model.Signal
	sess.OnSignal = func(ev model.SignalEvent) {
		signals = append(signals, ev.Signal)
	}

	out := make(chan model.LiveCandle, 256)
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, out) }()

	n := 0
	for range out {
		n++
	}
	err = <-done
	if err != nil && !errors.Is(err, stream.ErrFeedClosed) {
		return nil, err
	}
	log.Printf("[backtest] replayed %d live candles, %d signals", n, len(signals))
	return signals, nil
}

func listStreams(dbPath string) {
	r, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer r.Close()
	insts, err := r.Instruments()
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	for _, inst := range insts {
		fmt.Println(inst.Key())
	}
	if len(insts) == 0 {
		log.Printf("[backtest] no streams stored in %s", dbPath)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stamp(ts float64) string {
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04")
}
