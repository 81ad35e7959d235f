// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator exists in incremental form (the Indicator interface, fed one
// finalized candle at a time) and in batch form (the Compute* functions over a
// full close series). Batch results are produced by driving the incremental
// forms, so both modes yield bit-identical values for the same history.
package indicator

import (
	"encoding/json"

	"trading-signals/internal/model"
)

// Indicator is the interface for all incremental technical indicators.
type Indicator interface {
	// Name returns the indicator label (e.g., "SMA_50", "RSI_14").
	Name() string

	// Update feeds a new finalized candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if a candle with this close price
	// were added next, WITHOUT mutating internal state.
	// Used for live previews of forming candles.
	Peek(close float64) float64
}

// adder is implemented by indicators that can be fed raw values.
type adder interface {
	Add(v float64)
	Value() float64
	Ready() bool
}

// Point is one indicator value aligned with a candle. Ready=false marks the
// warm-up period where the indicator has no value; it encodes as JSON null.
type Point struct {
	Value float64
	Ready bool
}

// MarshalJSON encodes a not-ready point as null.
func (p Point) MarshalJSON() ([]byte, error) {
	if !p.Ready {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

// Last returns the final point of a series and false when it is empty.
func Last(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)-1], true
}

// drive feeds values through an incremental indicator and records a point
// after each one.
func drive(ind adder, values []float64) []Point {
	out := make([]Point, len(values))
	for i, v := range values {
		ind.Add(v)
		out[i] = Point{Value: ind.Value(), Ready: ind.Ready()}
	}
	return out
}
