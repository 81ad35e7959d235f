package binance

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"

	"trading-signals/internal/model"
)

// klineEvent is the kline stream payload:
//
//	{"e":"kline","E":1672515782136,"s":"BTCUSDT","k":{"t":1672515780000,"i":"1m","o":"0.0010","c":"0.0020","h":"0.0025","l":"0.0015","v":"1000","x":false}}
type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  kline  `json:"k"`
}

type kline struct {
	StartTime int64  `json:"t"` // ms
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// ParseKlineMessage decodes one stream message into a raw update.
// The exchange reports milliseconds; updates carry seconds.
func ParseKlineMessage(raw []byte) (model.RawUpdate, error) {
	var ev klineEvent
	if err := sonic.Unmarshal(raw, &ev); err != nil {
		return model.RawUpdate{}, &model.DataFormatError{Field: "message", Reason: err.Error()}
	}
	if ev.Event != "" && ev.Event != "kline" {
		return model.RawUpdate{}, &model.DataFormatError{Field: "e", Reason: fmt.Sprintf("unexpected event %q", ev.Event)}
	}
	k := ev.Kline
	if k.StartTime <= 0 {
		return model.RawUpdate{}, &model.DataFormatError{Field: "k.t", Reason: "missing start time"}
	}

	u := model.RawUpdate{Time: k.StartTime / 1000}
	fields := []struct {
		name string
		s    string
		dst  *float64
	}{
		{"k.o", k.Open, &u.Open},
		{"k.h", k.High, &u.High},
		{"k.l", k.Low, &u.Low},
		{"k.c", k.Close, &u.Close},
		{"k.v", k.Volume, &u.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.s, 64)
		if err != nil {
			return model.RawUpdate{}, &model.DataFormatError{Field: f.name, Reason: fmt.Sprintf("invalid number %q", f.s)}
		}
		*f.dst = v
	}
	return u, u.Validate()
}

// EncodeKlineMessage builds a stream message for an update. Used by the
// simulated kline server.
func EncodeKlineMessage(symbol, interval string, u model.RawUpdate, closed bool) ([]byte, error) {
	ev := klineEvent{
		Event:  "kline",
		Symbol: symbol,
		Kline: kline{
			StartTime: u.Time * 1000,
			Interval:  interval,
			Open:      strconv.FormatFloat(u.Open, 'f', -1, 64),
			High:      strconv.FormatFloat(u.High, 'f', -1, 64),
			Low:       strconv.FormatFloat(u.Low, 'f', -1, 64),
			Close:     strconv.FormatFloat(u.Close, 'f', -1, 64),
			Volume:    strconv.FormatFloat(u.Volume, 'f', -1, 64),
			Closed:    closed,
		},
	}
	return sonic.Marshal(&ev)
}

// parseRESTKline converts one /api/v3/klines row:
//
//	[openTime, "open", "high", "low", "close", "volume", closeTime, ...]
func parseRESTKline(row []interface{}) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, &model.DataFormatError{Field: "kline", Reason: fmt.Sprintf("expected >= 6 columns, got %d", len(row))}
	}
	ts, ok := row[0].(float64)
	if !ok {
		return model.Candle{}, &model.DataFormatError{Field: "open_time", Reason: "not a number"}
	}
	c := model.Candle{Timestamp: int64(ts) / 1000, IsFinal: true}
	dsts := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range dsts {
		v, err := toFloat(row[i+1])
		if err != nil {
			return model.Candle{}, &model.DataFormatError{Field: "kline", Reason: err.Error()}
		}
		*dst = v
	}
	return c, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("unexpected value %v", v)
}
