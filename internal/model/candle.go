package model

import (
	"encoding/json"
	"math"
)

// RawUpdate is one kline update as reported by an exchange. The exchange
// repeats the same bucket with cumulative values until the bucket closes.
type RawUpdate struct {
	Time   int64   `json:"time"` // Unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Validate reports the first malformed field, or nil.
func (u RawUpdate) Validate() error {
	if u.Time < 0 {
		return &DataFormatError{Field: "time", Reason: "negative timestamp"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"open", u.Open}, {"high", u.High}, {"low", u.Low}, {"close", u.Close}, {"volume", u.Volume}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &DataFormatError{Field: f.name, Reason: "not a finite number"}
		}
	}
	if u.Volume < 0 {
		return &DataFormatError{Field: "volume", Reason: "negative volume"}
	}
	if u.High < u.Low {
		return &DataFormatError{Field: "high", Reason: "high below low"}
	}
	if u.Open < u.Low || u.Open > u.High {
		return &DataFormatError{Field: "open", Reason: "outside low..high"}
	}
	if u.Close < u.Low || u.Close > u.High {
		return &DataFormatError{Field: "close", Reason: "outside low..high"}
	}
	return nil
}

// Candle is one OHLCV record for a fixed time bucket.
// IsFinal is false while the bucket is still forming.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // bucket start, Unix seconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsFinal   bool    `json:"is_final"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close column of a series.
func Closes(series []Candle) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		out[i] = series[i].Close
	}
	return out
}

// KeyedCandle carries a candle together with the stream it belongs to.
// It is the unit exchanged with storage and cross-process fan-out.
type KeyedCandle struct {
	Instrument
	Candle
}
