// Package strategy turns indicator output into discrete BUY/SELL signals.
//
// Batch rules (Calculate, Crossover) are pure functions over a caller-owned
// series. Streaming strategies implement Strategy and are fed finalized
// candles one at a time by an Engine owned by a single stream.
package strategy

import (
	"fmt"
	"strings"

	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

// Strategy is the interface that all streaming strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnCandle is called once per finalized candle.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnCandle(candle model.Candle) *model.Signal
}

// Strategy names accepted by New.
const (
	NameSMACrossover   = "sma_crossover"
	NameMACDDivergence = "macd_divergence"
	NameRSIDivergence  = "rsi_divergence"
)

// Params carries the tunables shared by the streaming strategies.
type Params struct {
	SMAWindow  int
	MACD       indicator.MACDConfig
	RSI        indicator.RSIConfig
	Thresholds Thresholds
}

// DefaultParams returns the stock parameters.
func DefaultParams() Params {
	return Params{
		SMAWindow: DefaultSMAWindow,
		MACD: indicator.MACDConfig{
			Fast:   indicator.DefaultMACDFast,
			Slow:   indicator.DefaultMACDSlow,
			Signal: indicator.DefaultMACDSignal,
		},
		RSI:        indicator.RSIConfig{Length: indicator.DefaultRSILength},
		Thresholds: DefaultThresholds,
	}
}

// New builds a streaming strategy by name.
func New(name string, p Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameSMACrossover:
		return NewSMACrossover(p.SMAWindow), nil
	case NameMACDDivergence:
		return NewMACDDivergence(p.MACD), nil
	case NameRSIDivergence:
		return NewRSIDivergence(p.RSI, p.Thresholds), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// Seeder is implemented by strategies that can absorb history without
// evaluating it.
type Seeder interface {
	Seed(history []model.Candle)
}

// Engine routes finalized candles of one stream to its registered strategies.
type Engine struct {
	inst       model.Instrument
	strategies []Strategy
}

// NewEngine creates a strategy engine for one stream.
func NewEngine(inst model.Instrument) *Engine {
	return &Engine{inst: inst}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Process feeds a candle to every strategy and returns the signals raised,
// in registration order. Forming candles are ignored.
func (e *Engine) Process(c model.Candle) []model.SignalEvent {
	if !c.IsFinal {
		return nil
	}
	var events []model.SignalEvent
	for _, s := range e.strategies {
		if sig := s.OnCandle(c); sig != nil {
			events = append(events, model.SignalEvent{Instrument: e.inst, Strategy: s.Name(), Signal: *sig})
		}
	}
	return events
}

// Seed warms every strategy up with finalized history. Strategies that are
// not Seeders get the candles through OnCandle and their signals are
// discarded.
func (e *Engine) Seed(history []model.Candle) {
	for _, s := range e.strategies {
		if sd, ok := s.(Seeder); ok {
			sd.Seed(history)
			continue
		}
		for _, c := range history {
			c.IsFinal = true
			s.OnCandle(c)
		}
	}
}
