// Package finalizer turns a raw kline update feed into a candle stream in
// which every bucket is emitted as forming any number of times and exactly
// once more as final.
//
// Finality is only observable when the first update of a newer bucket
// arrives. At that moment the finalizer emits the outgoing bucket's last
// observed values with IsFinal=true, followed by the incoming update as a
// forming candle of the new bucket.
package finalizer

import (
	"fmt"

	"trading-signals/internal/model"
)

// Finalizer holds the streaming state of one (exchange, symbol, interval)
// stream. It is owned by a single goroutine and must not be shared.
type Finalizer struct {
	width int64 // bucket width in seconds

	bucket  int64 // bucket start of the forming candle
	current model.Candle
	started bool

	lastClosed    int64
	hasLastClosed bool

	// Merge folds each update into the forming candle (max high, min low,
	// last close, summed volume) instead of replacing it. Exchanges that
	// report cumulative kline values need Merge=false; per-trade feeds need
	// Merge=true.
	Merge bool

	// Metrics hooks
	OnFinal     func(c model.Candle) // called on every finalized candle (optional)
	OnMalformed func(err error)      // called when an update is rejected (optional)
}

// New creates a finalizer for buckets of width seconds.
func New(width int64) (*Finalizer, error) {
	if width <= 0 {
		return nil, fmt.Errorf("finalizer: bucket width must be positive, got %d", width)
	}
	return &Finalizer{width: width}, nil
}

// Width returns the bucket width in seconds.
func (f *Finalizer) Width() int64 {
	return f.width
}

// LastClosed returns the bucket start of the most recently finalized candle.
func (f *Finalizer) LastClosed() (int64, bool) {
	return f.lastClosed, f.hasLastClosed
}

// Step applies one raw update and returns the candles it produces, in
// emission order: either a single forming candle, or the finalized previous
// bucket followed by the first forming candle of the new bucket.
//
// Malformed or out-of-order updates return a *model.DataFormatError and
// leave the state untouched.
func (f *Finalizer) Step(u model.RawUpdate) ([]model.Candle, error) {
	if err := u.Validate(); err != nil {
		f.malformed(err)
		return nil, err
	}
	bucket := model.BucketStart(u.Time, f.width)

	if f.started && bucket < f.bucket {
		err := &model.DataFormatError{
			Field:  "time",
			Reason: fmt.Sprintf("bucket %d is older than forming bucket %d", bucket, f.bucket),
		}
		f.malformed(err)
		return nil, err
	}

	if f.started && bucket == f.bucket {
		f.apply(u)
		return []model.Candle{f.current}, nil
	}

	out := make([]model.Candle, 0, 2)
	if f.started {
		final := f.current
		final.IsFinal = true
		f.lastClosed = f.bucket
		f.hasLastClosed = true
		out = append(out, final)
		if f.OnFinal != nil {
			f.OnFinal(final)
		}
	}

	f.bucket = bucket
	f.started = true
	f.current = model.Candle{
		Timestamp: bucket,
		Open:      u.Open,
		High:      u.High,
		Low:       u.Low,
		Close:     u.Close,
		Volume:    u.Volume,
	}
	return append(out, f.current), nil
}

// apply updates the forming candle in place with a same-bucket update.
func (f *Finalizer) apply(u model.RawUpdate) {
	fc := &f.current
	if !f.Merge {
		fc.Open, fc.High, fc.Low, fc.Close, fc.Volume = u.Open, u.High, u.Low, u.Close, u.Volume
		return
	}
	if u.High > fc.High {
		fc.High = u.High
	}
	if u.Low < fc.Low {
		fc.Low = u.Low
	}
	fc.Close = u.Close
	fc.Volume += u.Volume
}

func (f *Finalizer) malformed(err error) {
	if f.OnMalformed != nil {
		f.OnMalformed(err)
	}
}

// Reset discards all streaming state. The forming candle is not flushed:
// a bucket that never saw its successor is never reported final.
func (f *Finalizer) Reset() {
	f.bucket = 0
	f.current = model.Candle{}
	f.started = false
	f.lastClosed = 0
	f.hasLastClosed = false
}
