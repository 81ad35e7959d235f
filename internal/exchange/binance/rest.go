package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"trading-signals/internal/model"
)

// DefaultRESTURL is the public spot REST endpoint.
const DefaultRESTURL = "https://api.binance.com"

// MaxKlines is the largest page the klines endpoint serves.
const MaxKlines = 1000

// REST fetches historical klines. It satisfies exchange.History.
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

// Klines returns up to limit of the most recent klines, oldest first.
// The still-open kline the endpoint reports last is dropped.
func (r *REST) Klines(ctx context.Context, inst model.Instrument, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > MaxKlines {
		limit = MaxKlines
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(inst.Symbol))
	q.Set("interval", inst.Interval)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance klines: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance klines: status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var rows [][]interface{}
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance klines: decode: %w", err)
	}

	width, err := inst.Width()
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseRESTKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}
		if c.Timestamp+width > now {
			continue // bucket still open
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
