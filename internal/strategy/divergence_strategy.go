package strategy

import (
	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

// MACDDivergence raises a signal whenever the MACD line crosses its signal
// line between two consecutive finalized candles, which is the histogram
// crossing zero.
type MACDDivergence struct {
	macd       *indicator.MACD
	prevLine   indicator.Point
	prevSignal indicator.Point
}

// NewMACDDivergence creates a streaming MACD zero-cross strategy.
func NewMACDDivergence(cfg indicator.MACDConfig) *MACDDivergence {
	return &MACDDivergence{macd: indicator.NewMACD(cfg.Fast, cfg.Slow, cfg.Signal)}
}

func (m *MACDDivergence) Name() string { return NameMACDDivergence }

func (m *MACDDivergence) OnCandle(c model.Candle) *model.Signal {
	if !c.IsFinal {
		return nil
	}
	m.macd.Update(c)
	ready := m.macd.Ready()
	line := []indicator.Point{m.prevLine, {Value: m.macd.Line(), Ready: ready}}
	sig := []indicator.Point{m.prevSignal, {Value: m.macd.Signal(), Ready: ready}}
	m.prevLine, m.prevSignal = line[1], sig[1]

	if !CrossesOver(line, sig) {
		return nil
	}
	side := model.Sell
	if line[1].Value > sig[1].Value {
		side = model.Buy
	}
	return &model.Signal{Timestamp: float64(c.Timestamp), Price: c.Close, Side: side}
}

// RSIDivergence raises a signal on every finalized candle whose RSI is
// outside the thresholds.
type RSIDivergence struct {
	rsi *indicator.RSI
	th  Thresholds
}

// NewRSIDivergence creates a streaming RSI threshold strategy.
func NewRSIDivergence(cfg indicator.RSIConfig, th Thresholds) *RSIDivergence {
	return &RSIDivergence{rsi: indicator.NewRSI(cfg.Length), th: th}
}

func (r *RSIDivergence) Name() string { return NameRSIDivergence }

func (r *RSIDivergence) OnCandle(c model.Candle) *model.Signal {
	if !c.IsFinal {
		return nil
	}
	r.rsi.Update(c)
	side, ok := rsiBreach(indicator.Point{Value: r.rsi.Value(), Ready: r.rsi.Ready()}, r.th)
	if !ok {
		return nil
	}
	return &model.Signal{Timestamp: float64(c.Timestamp), Price: c.Close, Side: side}
}
