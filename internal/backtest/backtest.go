// Package backtest replays BUY/SELL signals against a close-price series
// with a single-lot, long-only position and reports the resulting balance.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"trading-signals/internal/model"
)

// DefaultInitialBalance is used when a request does not name one.
const DefaultInitialBalance = 10000.0

// ErrNoPriceData is returned when a position is still open after the last
// signal but there is no close price to settle it against.
var ErrNoPriceData = errors.New("backtest: open position but no price data")

// Trade is one closed round trip.
type Trade struct {
	EntryTime  float64 `json:"entry_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitTime   float64 `json:"exit_time"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	// Forced is set for the position settled at the last close.
	Forced bool `json:"forced"`
}

// Result is the outcome of a backtest.
type Result struct {
	FinalBalance float64 `json:"final_balance"`
	Trades       []Trade `json:"trades"`
}

type position struct {
	entryPrice decimal.Decimal
	entryTime  float64
}

// Order merges buys and sells into replay order: ascending timestamp, BUY
// before SELL at equal timestamps, then input order (buys first).
func Order(buys, sells []model.Signal) []model.Signal {
	merged := make([]model.Signal, 0, len(buys)+len(sells))
	merged = append(merged, buys...)
	merged = append(merged, sells...)
	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].Timestamp != merged[b].Timestamp {
			return merged[a].Timestamp < merged[b].Timestamp
		}
		return sideRank(merged[a].Side) < sideRank(merged[b].Side)
	})
	return merged
}

func sideRank(s model.Side) int {
	if s == model.Buy {
		return 0
	}
	return 1
}

// Run replays the signals in Order. A BUY opens a position only when flat;
// a SELL closes one only when open (balance += sell − entry). Anything else
// is ignored. A position still open at the end is settled at the close of
// the last candle in prices.
func Run(buys, sells []model.Signal, prices []model.Candle, initialBalance float64) (Result, error) {
	if err := checkFinite("initial_balance", initialBalance); err != nil {
		return Result{}, err
	}
	for _, list := range [][]model.Signal{buys, sells} {
		for _, s := range list {
			if err := validate(s); err != nil {
				return Result{}, err
			}
		}
	}

	balance := decimal.NewFromFloat(initialBalance)
	trades := []Trade{}
	var open *position

	for _, s := range Order(buys, sells) {
		price := decimal.NewFromFloat(s.Price)
		switch {
		case s.Side == model.Buy && open == nil:
			open = &position{entryPrice: price, entryTime: s.Timestamp}
		case s.Side == model.Sell && open != nil:
			pnl := price.Sub(open.entryPrice)
			balance = balance.Add(pnl)
			trades = append(trades, closeTrade(open, s.Timestamp, price, pnl, false))
			open = nil
		}
	}

	if open != nil {
		if len(prices) == 0 {
			return Result{}, ErrNoPriceData
		}
		last := prices[len(prices)-1]
		if err := checkFinite("close", last.Close); err != nil {
			return Result{}, err
		}
		price := decimal.NewFromFloat(last.Close)
		pnl := price.Sub(open.entryPrice)
		balance = balance.Add(pnl)
		trades = append(trades, closeTrade(open, float64(last.Timestamp), price, pnl, true))
	}

	return Result{FinalBalance: balance.InexactFloat64(), Trades: trades}, nil
}

func closeTrade(p *position, exitTime float64, exit, pnl decimal.Decimal, forced bool) Trade {
	return Trade{
		EntryTime:  p.entryTime,
		EntryPrice: p.entryPrice.InexactFloat64(),
		ExitTime:   exitTime,
		ExitPrice:  exit.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
		Forced:     forced,
	}
}

func validate(s model.Signal) error {
	if s.Side != model.Buy && s.Side != model.Sell {
		return &model.DataFormatError{Field: "type", Reason: fmt.Sprintf("unknown side %q", s.Side)}
	}
	if err := checkFinite("timestamp", s.Timestamp); err != nil {
		return err
	}
	return checkFinite("price", s.Price)
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &model.DataFormatError{Field: field, Reason: "not a finite number"}
	}
	return nil
}
