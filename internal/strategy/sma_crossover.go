package strategy

import (
	"trading-signals/internal/model"
	"trading-signals/internal/ringbuf"
)

// SMACrossover is the streaming form of the crossover rule.
//
// It keeps the last three finalized highs and lows and a running mean of the
// last window closes. Each finalized candle is judged against the SMA and
// the highs/lows known before it arrived; only then are the windows updated:
//
//	BUY:  high > sma > low, sma < close, sma > every prior high
//	SELL: high > sma > low, sma > close, sma < every prior low
type SMACrossover struct {
	window int
	highs  *ringbuf.Window[float64]
	lows   *ringbuf.Window[float64]
	closes *ringbuf.Window[float64]

	currentSMA float64
	hasSMA     bool
}

// NewSMACrossover creates a streaming crossover over an SMA of window closes.
func NewSMACrossover(window int) *SMACrossover {
	if window <= 0 {
		window = DefaultSMAWindow
	}
	return &SMACrossover{
		window: window,
		highs:  ringbuf.New[float64](lookback),
		lows:   ringbuf.New[float64](lookback),
		closes: ringbuf.New[float64](window),
	}
}

func (s *SMACrossover) Name() string { return NameSMACrossover }

// SMA returns the current running mean and whether the window is full.
func (s *SMACrossover) SMA() (float64, bool) {
	return s.currentSMA, s.hasSMA
}

// Seed folds historical finalized candles into the windows without
// evaluating them.
func (s *SMACrossover) Seed(history []model.Candle) {
	for _, c := range history {
		s.fold(c)
	}
}

func (s *SMACrossover) OnCandle(c model.Candle) *model.Signal {
	if !c.IsFinal {
		return nil
	}
	sig := s.evaluate(c)
	s.fold(c)
	return sig
}

func (s *SMACrossover) evaluate(c model.Candle) *model.Signal {
	if !s.hasSMA || !s.highs.Full() {
		return nil
	}
	sma := s.currentSMA
	if !(c.High > sma && sma > c.Low) {
		return nil
	}
	_, highMax, _ := ringbuf.MinMax(s.highs)
	lowMin, _, _ := ringbuf.MinMax(s.lows)

	switch {
	case sma < c.Close && sma > highMax:
		return &model.Signal{Timestamp: float64(c.Timestamp), Price: c.Close, Side: model.Buy}
	case sma > c.Close && sma < lowMin:
		return &model.Signal{Timestamp: float64(c.Timestamp), Price: c.Close, Side: model.Sell}
	}
	return nil
}

func (s *SMACrossover) fold(c model.Candle) {
	s.highs.Push(c.High)
	s.lows.Push(c.Low)
	s.closes.Push(c.Close)
	if s.closes.Full() {
		s.currentSMA = ringbuf.Sum(s.closes) / float64(s.window)
		s.hasSMA = true
	}
}
