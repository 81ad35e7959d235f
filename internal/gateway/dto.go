package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trading-signals/internal/backtest"
	"trading-signals/internal/model"
	"trading-signals/internal/strategy"
)

// number accepts a JSON number or a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

// PriceRow is one input candle. The time may be given as "datetime" (a date
// string or a Unix time), "timestamp" or "time". Open, high, low and close
// are required; a missing volume is 0.
type PriceRow struct {
	Datetime  json.RawMessage `json:"datetime,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Time      json.RawMessage `json:"time,omitempty"`
	Open      *number         `json:"open"`
	High      *number         `json:"high"`
	Low       *number         `json:"low"`
	Close     *number         `json:"close"`
	Volume    *number         `json:"volume,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// unixSeconds reads a time column. Numbers above 1e11 are taken as
// milliseconds.
func unixSeconds(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(v), nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), nil
			}
		}
		return 0, fmt.Errorf("unrecognised date %q", s)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return fromNumber(v), nil
}

func fromNumber(v float64) int64 {
	if v > 1e11 {
		return int64(v / 1000)
	}
	return int64(v)
}

// Candle converts the row into a finalized candle.
func (r PriceRow) Candle() (model.Candle, error) {
	raw := r.Datetime
	field := "datetime"
	if len(raw) == 0 || string(raw) == "null" {
		raw, field = r.Timestamp, "timestamp"
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw, field = r.Time, "time"
	}
	if len(raw) == 0 || string(raw) == "null" {
		return model.Candle{}, &model.DataFormatError{Field: "datetime", Reason: "missing"}
	}
	ts, err := unixSeconds(raw)
	if err != nil {
		return model.Candle{}, &model.DataFormatError{Field: field, Reason: err.Error()}
	}
	c := model.Candle{Timestamp: ts, IsFinal: true}
	for _, f := range []struct {
		name string
		src  *number
		dst  *float64
	}{{"open", r.Open, &c.Open}, {"high", r.High, &c.High}, {"low", r.Low, &c.Low}, {"close", r.Close, &c.Close}} {
		if f.src == nil {
			return model.Candle{}, &model.DataFormatError{Field: f.name, Reason: "missing"}
		}
		*f.dst = float64(*f.src)
	}
	if r.Volume != nil {
		c.Volume = float64(*r.Volume)
	}
	u := model.RawUpdate{Time: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	if err := u.Validate(); err != nil {
		return model.Candle{}, err
	}
	return c, nil
}

// toSeries converts rows into a candle series. The first bad row fails the
// whole request with its index.
func toSeries(rows []PriceRow) ([]model.Candle, error) {
	out := make([]model.Candle, len(rows))
	for i, r := range rows {
		c, err := r.Candle()
		if err != nil {
			return nil, fmt.Errorf("price_data[%d]: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// CalculateRequest is the body of POST /calculate.
type CalculateRequest struct {
	PriceData        []PriceRow         `json:"price_data"`
	IndicatorName    string             `json:"indicator_name"`
	Variables        map[string]float64 `json:"variables"`
	DetectDivergence bool               `json:"detect_divergence"`
}

// CalculateResponse carries the enriched rows and the signal summary.
type CalculateResponse struct {
	Data    []map[string]any `json:"data"`
	Signals strategy.Summary `json:"signals"`
}

// GenerateRequest is the body of POST /generate_signals.
type GenerateRequest struct {
	PriceData []PriceRow `json:"price_data"`
	// SMAWindow overrides the configured crossover window.
	SMAWindow int `json:"sma_window,omitempty"`
}

// SignalsResponse lists crossover signals split by side.
type SignalsResponse struct {
	BuySignals  []model.Signal `json:"buy_signals"`
	SellSignals []model.Signal `json:"sell_signals"`
}

// BacktestRequest is the body of POST /backtest.
type BacktestRequest struct {
	PriceData      []PriceRow     `json:"price_data"`
	BuySignals     []model.Signal `json:"buy_signals"`
	SellSignals    []model.Signal `json:"sell_signals"`
	InitialBalance *float64       `json:"initial_balance"`
}

// BacktestResponse is backtest.Result on the wire.
type BacktestResponse = backtest.Result

// HistoricalResponse is the body of GET /historical_data.
type HistoricalResponse struct {
	Source         string             `json:"source"`
	HistoricalData []map[string]any   `json:"historical_data"`
	BuySignals     []model.Signal     `json:"buy_signals"`
	SellSignals    []model.Signal     `json:"sell_signals"`
	Signals        []strategy.Summary `json:"signals"`
}

// baseRow renders a candle as a response row keyed by timeKey.
func baseRow(c model.Candle, timeKey string) map[string]any {
	return map[string]any{
		timeKey:  c.Timestamp,
		"open":   c.Open,
		"high":   c.High,
		"low":    c.Low,
		"close":  c.Close,
		"volume": c.Volume,
	}
}

// nonNil keeps empty signal lists as [] on the wire.
func nonNil(s []model.Signal) []model.Signal {
	if s == nil {
		return []model.Signal{}
	}
	return s
}
