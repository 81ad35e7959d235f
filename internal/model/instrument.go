package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Instrument identifies one candle stream: an exchange, a trading pair and
// a kline interval.
type Instrument struct {
	Exchange string `json:"exchange"` // e.g. "binance"
	Symbol   string `json:"symbol"`   // e.g. "BTCUSDT"
	Interval string `json:"interval"` // exchange notation, e.g. "1m"
}

// Key returns a unique key for this stream: "exchange:symbol:interval".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol + ":" + i.Interval
}

// StreamKey returns the Redis stream key: "candle:{interval}:{exchange}:{symbol}".
func (i Instrument) StreamKey() string {
	return "candle:" + i.Interval + ":" + i.Exchange + ":" + i.Symbol
}

// Width returns the bucket width of the interval in seconds.
func (i Instrument) Width() (int64, error) {
	return IntervalSeconds(i.Interval)
}

const week = 7 * 86400

var intervalUnits = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': week,
}

// BucketStart returns the start of the width-second bucket holding t.
// Buckets are aligned to the Unix epoch, except whole-week buckets which
// start on Monday 00:00 UTC like exchange weekly klines.
func BucketStart(t, width int64) int64 {
	var offset int64
	if width%week == 0 {
		offset = 4 * 86400 // 1970-01-01 was a Thursday
	}
	r := (t - offset) % width
	if r < 0 {
		r += width
	}
	return t - r
}

// IntervalSeconds converts a kline interval such as "1m", "4h" or "1w"
// into a bucket width in seconds. Month intervals are not supported.
func IntervalSeconds(interval string) (int64, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, &DataFormatError{Field: "interval", Reason: fmt.Sprintf("invalid interval %q", interval)}
	}
	unit, ok := intervalUnits[interval[len(interval)-1]]
	if !ok {
		return 0, &DataFormatError{Field: "interval", Reason: fmt.Sprintf("unknown unit in %q", interval)}
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, &DataFormatError{Field: "interval", Reason: fmt.Sprintf("invalid count in %q", interval)}
	}
	return n * unit, nil
}
