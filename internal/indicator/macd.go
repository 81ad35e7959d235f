package indicator

import (
	"strconv"

	"trading-signals/internal/model"
)

// MACD tracks the MACD line (fast EMA − slow EMA), its signal EMA and the
// histogram (line − signal). Value reports the histogram, which is what the
// zero-cross divergence rule inspects.
type MACD struct {
	fast, slow, signal *EMA
	fastLen, slowLen   int
	signalLen          int
}

// NewMACD creates a MACD with the given EMA lengths (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:      NewEMA(fast),
		slow:      NewEMA(slow),
		signal:    NewEMA(signal),
		fastLen:   fast,
		slowLen:   slow,
		signalLen: signal,
	}
}

func (m *MACD) Name() string {
	return "MACD_" + strconv.Itoa(m.fastLen) + "_" + strconv.Itoa(m.slowLen) + "_" + strconv.Itoa(m.signalLen)
}

func (m *MACD) Update(candle model.Candle) { m.Add(candle.Close) }

// Add feeds a raw close.
func (m *MACD) Add(price float64) {
	m.fast.Add(price)
	m.slow.Add(price)
	m.signal.Add(m.Line())
}

// Line returns the MACD line.
func (m *MACD) Line() float64 { return m.fast.Value() - m.slow.Value() }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Hist returns the histogram.
func (m *MACD) Hist() float64 { return m.Line() - m.signal.Value() }

func (m *MACD) Value() float64 { return m.Hist() }
func (m *MACD) Ready() bool    { return m.signal.Ready() }

// Peek computes the histogram with an additional close without mutating state.
func (m *MACD) Peek(price float64) float64 {
	line := m.fast.Peek(price) - m.slow.Peek(price)
	return line - m.signal.Peek(line)
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}
