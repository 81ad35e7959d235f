package model

import "encoding/json"

// LiveCandle is what a live subscriber receives for every candle update:
// the candle itself, the streaming SMA once warm, and the signal raised on
// this candle if any.
type LiveCandle struct {
	Time    int64    `json:"time"`
	Open    float64  `json:"open"`
	High    float64  `json:"high"`
	Low     float64  `json:"low"`
	Close   float64  `json:"close"`
	Volume  float64  `json:"volume"`
	SMA     *float64 `json:"sma"`
	Signal  *Side    `json:"signal,omitempty"`
	IsFinal bool     `json:"is_final"`

	Indicators []IndicatorValue `json:"indicators,omitempty"`
}

// IndicatorValue is the value of one streaming indicator for a candle.
// Live is true for previews computed from a forming candle.
type IndicatorValue struct {
	Name  string  `json:"name"` // e.g. "RSI_14", "MACD_12_26_9"
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
	Live  bool    `json:"live,omitempty"`
}

// NewLiveCandle builds a live payload from a candle.
func NewLiveCandle(c Candle) LiveCandle {
	return LiveCandle{
		Time:    c.Timestamp,
		Open:    c.Open,
		High:    c.High,
		Low:     c.Low,
		Close:   c.Close,
		Volume:  c.Volume,
		IsFinal: c.IsFinal,
	}
}

// WithSMA sets the SMA value.
func (l LiveCandle) WithSMA(v float64) LiveCandle {
	l.SMA = &v
	return l
}

// WithSignal sets the signal side.
func (l LiveCandle) WithSignal(s Side) LiveCandle {
	l.Signal = &s
	return l
}

// JSON returns the JSON-encoded payload.
func (l *LiveCandle) JSON() []byte {
	b, _ := json.Marshal(l)
	return b
}
