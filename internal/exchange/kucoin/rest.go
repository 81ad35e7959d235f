// Package kucoin implements the KuCoin spot candles REST client.
package kucoin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"trading-signals/internal/model"
)

// DefaultRESTURL is the public spot REST endpoint.
const DefaultRESTURL = "https://api.kucoin.com"

// intervalTypes maps kline intervals to KuCoin candle types.
var intervalTypes = map[string]string{
	"1m":  "1min",
	"3m":  "3min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1hour",
	"2h":  "2hour",
	"4h":  "4hour",
	"6h":  "6hour",
	"8h":  "8hour",
	"12h": "12hour",
	"1d":  "1day",
	"1w":  "1week",
}

// REST fetches historical candles. It satisfies exchange.History.
type REST struct {
	baseURL string
	client  *http.Client
}

// NewREST creates a REST client. A nil client uses a 10s timeout.
func NewREST(baseURL string, client *http.Client) *REST {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &REST{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type candlesResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// Symbol converts "BTCUSDT" to KuCoin's "BTC-USDT". Symbols that already
// contain a dash are returned unchanged.
func Symbol(s string) string {
	s = strings.ToUpper(s)
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote
		}
	}
	return s
}

// Klines returns up to limit of the most recent finalized candles, oldest first.
func (r *REST) Klines(ctx context.Context, inst model.Instrument, limit int) ([]model.Candle, error) {
	typ, ok := intervalTypes[inst.Interval]
	if !ok {
		return nil, &model.DataFormatError{Field: "interval", Reason: fmt.Sprintf("unsupported by kucoin: %q", inst.Interval)}
	}
	width, err := inst.Width()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().Unix()

	q := url.Values{}
	q.Set("type", typ)
	q.Set("symbol", Symbol(inst.Symbol))
	q.Set("startAt", strconv.FormatInt(now-int64(limit+1)*width, 10))
	q.Set("endAt", strconv.FormatInt(now, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v1/market/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("kucoin candles: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin candles: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kucoin candles: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kucoin candles: status %d", resp.StatusCode)
	}

	var cr candlesResponse
	if err := sonic.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("kucoin candles: decode: %w", err)
	}
	if cr.Code != "200000" {
		return nil, fmt.Errorf("kucoin candles: code %s: %s", cr.Code, cr.Msg)
	}

	candles := make([]model.Candle, 0, len(cr.Data))
	for _, row := range cr.Data {
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("kucoin candles: %w", err)
		}
		if c.Timestamp+width > now {
			continue // bucket still open
		}
		candles = append(candles, c)
	}

	// newest first on the wire
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// parseRow converts [time, open, close, high, low, volume, turnover].
func parseRow(row []string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, &model.DataFormatError{Field: "candle", Reason: fmt.Sprintf("expected >= 6 columns, got %d", len(row))}
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Candle{}, &model.DataFormatError{Field: "time", Reason: err.Error()}
	}
	c := model.Candle{Timestamp: ts, IsFinal: true}
	dsts := []*float64{&c.Open, &c.Close, &c.High, &c.Low, &c.Volume}
	for i, dst := range dsts {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return model.Candle{}, &model.DataFormatError{Field: "candle", Reason: err.Error()}
		}
		*dst = v
	}
	return c, nil
}
