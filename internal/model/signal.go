package model

import "encoding/json"

// Side is the direction of a trading signal.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is a discrete trade trigger at a point in time.
type Signal struct {
	Timestamp float64 `json:"timestamp"` // Unix seconds
	Price     float64 `json:"price"`
	Side      Side    `json:"type"`
}

// SignalEvent is a signal raised by a named strategy on a live stream.
type SignalEvent struct {
	Instrument
	Strategy string `json:"strategy"`
	Signal
}

// StreamKey returns the Redis stream key: "signal:{interval}:{exchange}:{symbol}".
func (e *SignalEvent) StreamKey() string {
	return "signal:" + e.Interval + ":" + e.Exchange + ":" + e.Symbol
}

// JSON returns the JSON-encoded event.
func (e *SignalEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
