package indicator

import (
	"strconv"

	"trading-signals/internal/model"
	"trading-signals/internal/ringbuf"
)

// RSI calculates the Relative Strength Index with gains and losses averaged
// by a simple rolling mean over the last period deltas (not Wilder's
// smoothing).
//
// The first close has no predecessor and contributes a zero delta, so the
// first value is available after period closes. When the average loss is
// zero the RSI is 100, even if the average gain is zero too.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gains     *ringbuf.Window[float64]
	losses    *ringbuf.Window[float64]
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gains:  ringbuf.New[float64](period),
		losses: ringbuf.New[float64](period),
	}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(candle model.Candle) { r.Add(candle.Close) }

// Add feeds a raw close.
func (r *RSI) Add(price float64) {
	r.count++
	delta := 0.0
	if r.count > 1 {
		delta = price - r.prevClose
	}
	r.prevClose = price

	gain, loss := split(delta)
	r.gains.Push(gain)
	r.losses.Push(loss)

	if r.gains.Full() {
		r.current = rsiFrom(ringbuf.Sum(r.gains), ringbuf.Sum(r.losses), r.period)
	}
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.gains.Full() }

// Peek computes what RSI would be with an additional close without mutating state.
func (r *RSI) Peek(price float64) float64 {
	if r.gains.Len()+1 < r.period {
		return r.current
	}
	delta := 0.0
	if r.count > 0 {
		delta = price - r.prevClose
	}
	gain, loss := split(delta)
	sumGain := ringbuf.Sum(r.gains) + gain
	sumLoss := ringbuf.Sum(r.losses) + loss
	if r.gains.Full() {
		sumGain -= r.gains.At(0)
		sumLoss -= r.losses.At(0)
	}
	return rsiFrom(sumGain, sumLoss, r.period)
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.gains.Reset()
	r.losses.Reset()
	r.current = 0
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(sumGain, sumLoss float64, period int) float64 {
	p := float64(period)
	avgGain, avgLoss := sumGain/p, sumLoss/p
	if avgLoss <= 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
