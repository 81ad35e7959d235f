package indicator

import (
	"strconv"

	"trading-signals/internal/model"
	"trading-signals/internal/ringbuf"
)

// SMA calculates Simple Moving Average over a rolling window of closes.
type SMA struct {
	period  int
	window  *ringbuf.Window[float64]
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		window: ringbuf.New[float64](period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(candle model.Candle) { s.Add(candle.Close) }

// Add feeds a raw value.
func (s *SMA) Add(v float64) {
	s.window.Push(v)
	if s.window.Full() {
		s.current = ringbuf.Sum(s.window) / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.window.Full() }

// Peek computes what Value() would be with an additional value without mutating state.
func (s *SMA) Peek(v float64) float64 {
	sum := ringbuf.Sum(s.window)
	if !s.window.Full() {
		// Not fully ready: partial average including this value
		return (sum + v) / float64(s.window.Len()+1)
	}
	// Preview: replace the oldest value with v
	return (sum - s.window.At(0) + v) / float64(s.period)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.window.Reset()
	s.current = 0
}
