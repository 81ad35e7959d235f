package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-signals/config"
	"trading-signals/internal/exchange"
	"trading-signals/internal/model"
)

type staticHistory struct {
	series []model.Candle
	err    error
	calls  int
}

func (h *staticHistory) Klines(_ context.Context, _ model.Instrument, limit int) ([]model.Candle, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	if len(h.series) > limit {
		return h.series[len(h.series)-limit:], nil
	}
	return h.series, nil
}

type staticReader struct {
	series []model.Candle
}

func (r staticReader) ReadCandles(model.Instrument, int64, int) ([]model.Candle, error) {
	return r.series, nil
}

func (r staticReader) Close() error { return nil }

type chanSource struct {
	ch chan model.LiveCandle

	mu   sync.Mutex
	inst model.Instrument
}

func (s *chanSource) Live(_ context.Context, inst model.Instrument) (<-chan model.LiveCandle, error) {
	s.mu.Lock()
	s.inst = inst
	s.mu.Unlock()
	return s.ch, nil
}

func (s *chanSource) last() model.Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Store == nil {
		deps.Store = config.NewStore(config.DefaultSettings(), nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewServer(ctx, deps))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func post(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func rows(closes ...float64) []map[string]any {
	out := make([]map[string]any, len(closes))
	for i, c := range closes {
		out[i] = map[string]any{
			"datetime": time.Unix(int64(i)*60, 0).UTC().Format("2006-01-02 15:04:05"),
			"open":     c, "high": c, "low": c, "close": c, "volume": 1,
		}
	}
	return out
}

// crossoverSeries has exactly one BUY for an SMA window of 5, at index 8.
func crossoverSeries() []model.Candle {
	closes := []float64{10, 10, 10, 10, 10, 1, 1, 1}
	var out []model.Candle
	for i, c := range closes {
		out = append(out, model.Candle{Timestamp: int64(i) * 60, Open: c, High: c, Low: c, Close: c, IsFinal: true})
	}
	return append(out, model.Candle{Timestamp: 480, Open: 1, High: 6, Low: 0.5, Close: 5, IsFinal: true})
}

func TestCalculateSMA(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/calculate", map[string]any{
		"price_data":     rows(1, 2, 3, 4),
		"indicator_name": "sma",
		"variables":      map[string]float64{"period": 3},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}

	var out struct {
		Data    []map[string]any `json:"data"`
		Signals struct {
			Indicator          string   `json:"indicator"`
			DivergenceDetected bool     `json:"divergence_detected"`
			LastValue          *float64 `json:"last_value"`
		} `json:"signals"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 4 {
		t.Fatalf("rows = %d, want 4", len(out.Data))
	}
	want := []any{nil, nil, 2.0, 3.0}
	for i, w := range want {
		if got := out.Data[i]["SMA"]; got != w {
			t.Errorf("row %d SMA = %v, want %v", i, got, w)
		}
	}
	if ts := out.Data[1]["datetime"]; ts != 60.0 {
		t.Errorf("datetime = %v, want 60", ts)
	}
	if out.Signals.Indicator != "SMA" || out.Signals.DivergenceDetected {
		t.Errorf("signals = %+v", out.Signals)
	}
	if out.Signals.LastValue == nil || *out.Signals.LastValue != 3 {
		t.Errorf("last_value = %v, want 3", out.Signals.LastValue)
	}
}

func TestCalculateRSIDivergence(t *testing.T) {
	srv := newTestServer(t, Deps{})

	// Strictly falling closes drive RSI to 0.
	resp, body := post(t, srv.URL+"/calculate", map[string]any{
		"price_data":        rows(10, 9, 8, 7, 6),
		"indicator_name":    "RSI",
		"variables":         map[string]float64{"length": 3},
		"detect_divergence": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Signals struct {
			DivergenceDetected bool    `json:"divergence_detected"`
			Side               *string `json:"side"`
		} `json:"signals"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Signals.DivergenceDetected || out.Signals.Side == nil || *out.Signals.Side != "BUY" {
		t.Errorf("signals = %+v, want BUY divergence", out.Signals)
	}
}

func TestCalculateErrors(t *testing.T) {
	srv := newTestServer(t, Deps{})

	tests := []struct {
		name string
		body any
	}{
		{"unknown indicator", map[string]any{"price_data": rows(1, 2), "indicator_name": "BOLL"}},
		{"empty series", map[string]any{"price_data": []any{}, "indicator_name": "SMA"}},
		{"bad date", map[string]any{
			"price_data":     []map[string]any{{"datetime": "yesterday", "open": 1, "high": 1, "low": 1, "close": 1}},
			"indicator_name": "SMA",
		}},
		{"unordered", map[string]any{
			"price_data": []map[string]any{
				{"timestamp": 120, "open": 1, "high": 1, "low": 1, "close": 1},
				{"timestamp": 60, "open": 1, "high": 1, "low": 1, "close": 1},
			},
			"indicator_name": "SMA",
		}},
		{"missing close", map[string]any{
			"price_data": []map[string]any{
				{"datetime": 0, "open": 10, "high": 10, "low": 10, "close": 10},
				{"datetime": 60, "open": 10},
				{"datetime": 120, "open": 10, "high": 10, "low": 10, "close": 10},
			},
			"indicator_name": "SMA",
			"variables":      map[string]float64{"period": 2},
		}},
		{"open above high", map[string]any{
			"price_data":     []map[string]any{{"datetime": 0, "open": 12, "high": 11, "low": 9, "close": 10}},
			"indicator_name": "SMA",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+"/calculate", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", resp.StatusCode, body)
			}
			var e map[string]string
			if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
				t.Errorf("body = %s, want error object", body)
			}
		})
	}

	resp, err := http.Post(srv.URL+"/calculate", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/backtest")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestGenerateSignals(t *testing.T) {
	srv := newTestServer(t, Deps{})

	var priceData []map[string]any
	for _, c := range crossoverSeries() {
		priceData = append(priceData, map[string]any{
			"timestamp": c.Timestamp, "open": c.Open, "high": c.High, "low": c.Low, "close": c.Close,
		})
	}
	resp, body := post(t, srv.URL+"/generate_signals", map[string]any{"price_data": priceData, "sma_window": 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out SignalsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.BuySignals) != 1 || len(out.SellSignals) != 0 {
		t.Fatalf("signals = %+v, want one BUY", out)
	}
	if got := out.BuySignals[0]; got.Timestamp != 480 || got.Price != 5 || got.Side != model.Buy {
		t.Errorf("buy = %+v", got)
	}
}

func TestGenerateSignalsNegativeWindow(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/generate_signals", map[string]any{"price_data": rows(1, 2, 3), "sma_window": -2})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, body)
	}
}

func TestBacktest(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/backtest", map[string]any{
		"price_data": []map[string]any{
			{"timestamp": 1, "open": 100, "high": 100, "low": 100, "close": 100},
			{"timestamp": 2, "open": 110, "high": 110, "low": 110, "close": 110},
		},
		"buy_signals":  []map[string]any{{"timestamp": 1, "price": 100, "type": "BUY"}},
		"sell_signals": []map[string]any{{"timestamp": 2, "price": 110, "type": "SELL"}},
		"initial_balance": 1000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out BacktestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.FinalBalance != 1010 {
		t.Errorf("final_balance = %v, want 1010", out.FinalBalance)
	}
	if len(out.Trades) != 1 || out.Trades[0].Forced {
		t.Errorf("trades = %+v", out.Trades)
	}
}

func TestBacktestDefaultBalance(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/backtest", map[string]any{
		"price_data":   []map[string]any{{"timestamp": 1, "open": 1, "high": 1, "low": 1, "close": 1}},
		"buy_signals":  []any{},
		"sell_signals": []any{},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out BacktestResponse
	json.Unmarshal(body, &out)
	if out.FinalBalance != 10000 {
		t.Errorf("final_balance = %v, want 10000", out.FinalBalance)
	}
}

func TestBacktestZeroBalance(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/backtest", map[string]any{
		"price_data": []map[string]any{
			{"timestamp": 60, "open": 50, "high": 50, "low": 50, "close": 50},
			{"timestamp": 120, "open": 60, "high": 60, "low": 60, "close": 60},
		},
		"buy_signals":     []map[string]any{{"timestamp": 60, "price": 50, "type": "BUY"}},
		"sell_signals":    []any{},
		"initial_balance": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out BacktestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.FinalBalance != 10 {
		t.Errorf("final_balance = %v, want 10", out.FinalBalance)
	}
}

func TestBacktestNegativeBalance(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/backtest", map[string]any{
		"price_data":      []map[string]any{{"timestamp": 60, "open": 1, "high": 1, "low": 1, "close": 1}},
		"buy_signals":     []any{},
		"sell_signals":    []any{},
		"initial_balance": -5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", resp.StatusCode, body)
	}
}

func TestHistoricalData(t *testing.T) {
	hist := &staticHistory{series: crossoverSeries()}
	reg := exchange.NewRegistry()
	reg.RegisterHistory("kucoin", hist)

	settings := config.DefaultSettings()
	settings.SMAWindow = 5
	srv := newTestServer(t, Deps{Store: config.NewStore(settings, nil), Exchange: reg})

	resp, err := http.Get(srv.URL + "/historical_data?limit=20")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out HistoricalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Source != "kucoin" || hist.calls != 1 {
		t.Errorf("source = %q calls = %d", out.Source, hist.calls)
	}
	if len(out.HistoricalData) != 9 {
		t.Fatalf("rows = %d, want 9", len(out.HistoricalData))
	}
	if _, ok := out.HistoricalData[0]["MACD_hist"]; !ok {
		t.Error("missing MACD_hist column")
	}
	if _, ok := out.HistoricalData[0]["RSI"]; !ok {
		t.Error("missing RSI column")
	}
	if len(out.Signals) != 2 || out.Signals[0].Indicator != "MACD" || out.Signals[1].Indicator != "RSI" {
		t.Errorf("signals = %+v", out.Signals)
	}
	if len(out.BuySignals) != 1 || out.BuySignals[0].Timestamp != 480 {
		t.Errorf("buy_signals = %+v", out.BuySignals)
	}
}

func TestHistoricalFallsBackToStore(t *testing.T) {
	reg := exchange.NewRegistry()
	reg.RegisterHistory("kucoin", &staticHistory{err: errors.New("unreachable")})
	srv := newTestServer(t, Deps{Exchange: reg, Candles: staticReader{series: crossoverSeries()}})

	resp, err := http.Get(srv.URL + "/historical_data")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out HistoricalResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || out.Source != "store" {
		t.Errorf("status = %d source = %q, want 200 from store", resp.StatusCode, out.Source)
	}
}

func TestHistoricalBadLimit(t *testing.T) {
	srv := newTestServer(t, Deps{})
	resp, err := http.Get(srv.URL + "/historical_data?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConfigSwap(t *testing.T) {
	store := config.NewStore(config.DefaultSettings(), nil)
	srv := newTestServer(t, Deps{Store: store})

	resp, body := post(t, srv.URL+"/api/config", map[string]any{"sma_window": 20, "symbol": "ethusdt"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	snap := store.Load()
	if snap.Version != 2 || snap.Settings.SMAWindow != 20 || snap.Settings.Symbol != "ethusdt" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Settings.Interval != "1m" {
		t.Errorf("interval = %q, unspecified fields must be kept", snap.Settings.Interval)
	}

	resp, _ = post(t, srv.URL+"/api/config", map[string]any{"sma_window": -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid settings status = %d, want 400", resp.StatusCode)
	}
	if store.Load().Version != 2 {
		t.Error("rejected settings must not bump the version")
	}

	get, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	var got config.Snapshot
	json.NewDecoder(get.Body).Decode(&got)
	if got.Version != 2 {
		t.Errorf("GET version = %d, want 2", got.Version)
	}
}

func TestWSData(t *testing.T) {
	src := &chanSource{ch: make(chan model.LiveCandle, 4)}
	srv := newTestServer(t, Deps{Live: src})

	sma := 101.5
	buy := model.Buy
	src.ch <- model.LiveCandle{Time: 60, Open: 100, High: 103, Low: 99, Close: 102, SMA: &sma, Signal: &buy, IsFinal: true}
	src.ch <- model.LiveCandle{Time: 120, Open: 102, High: 102, Low: 102, Close: 102}
	close(src.ch)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/data?symbol=ethusdt&interval=5m"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []map[string]any
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatal(err)
		}
		got = append(got, m)
	}

	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0]["signal"] != "BUY" || got[0]["sma"] != 101.5 || got[0]["is_final"] != true {
		t.Errorf("first = %v", got[0])
	}
	if got[1]["sma"] != nil || got[1]["is_final"] != false {
		t.Errorf("second = %v", got[1])
	}
	want := model.Instrument{Exchange: "binance", Symbol: "ETHUSDT", Interval: "5m"}
	if got := src.last(); got != want {
		t.Errorf("instrument = %+v, want %+v", got, want)
	}
}

func TestWSKucoinRoute(t *testing.T) {
	src := &chanSource{ch: make(chan model.LiveCandle)}
	close(src.ch)
	srv := newTestServer(t, Deps{Live: src})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/kucoin?exchange=binance"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
	if got := src.last().Exchange; got != "kucoin" {
		t.Errorf("exchange = %q, want kucoin", got)
	}
}

func TestWSInvalidInterval(t *testing.T) {
	srv := newTestServer(t, Deps{Live: &chanSource{ch: make(chan model.LiveCandle)}})
	resp, err := http.Get(srv.URL + "/ws/data?interval=7x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPriceRowTimeFormats(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{`{"datetime":"2024-01-01T00:01:00Z","open":1,"high":1,"low":1,"close":1}`, 1704067260},
		{`{"datetime":"2024-01-01","open":1,"high":1,"low":1,"close":1}`, 1704067200},
		{`{"datetime":1704067200000,"open":1,"high":1,"low":1,"close":1}`, 1704067200},
		{`{"timestamp":"1704067200","open":"1.5","high":"2","low":"1","close":"1.5"}`, 1704067200},
		{`{"time":60,"open":1,"high":1,"low":1,"close":1}`, 60},
	}
	for _, tt := range tests {
		var r PriceRow
		if err := json.Unmarshal([]byte(tt.raw), &r); err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		c, err := r.Candle()
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		if c.Timestamp != tt.want || !c.IsFinal {
			t.Errorf("%s: got %+v, want ts %d", tt.raw, c, tt.want)
		}
	}

	var r PriceRow
	json.Unmarshal([]byte(`{"open":1,"high":1,"low":1,"close":1}`), &r)
	if _, err := r.Candle(); !model.IsDataFormat(err) {
		t.Errorf("missing time: err = %v, want DataFormatError", err)
	}
	json.Unmarshal([]byte(`{"time":1,"open":1,"high":1,"low":2,"close":1}`), &r)
	if _, err := r.Candle(); !model.IsDataFormat(err) {
		t.Errorf("high below low: err = %v, want DataFormatError", err)
	}

	var partial PriceRow
	json.Unmarshal([]byte(`{"datetime":120,"open":10}`), &partial)
	var dfe *model.DataFormatError
	if _, err := partial.Candle(); !errors.As(err, &dfe) || dfe.Field != "high" {
		t.Errorf("missing prices: err = %v, want DataFormatError on high", err)
	}

	var noVolume PriceRow
	json.Unmarshal([]byte(`{"datetime":120,"open":10,"high":11,"low":9,"close":10}`), &noVolume)
	if c, err := noVolume.Candle(); err != nil || c.Volume != 0 {
		t.Errorf("missing volume: got %+v, %v; want volume 0", c, err)
	}
}

func ExampleSetCORS() {
	rec := httptest.NewRecorder()
	SetCORS(rec)
	fmt.Println(rec.Header().Get("Access-Control-Allow-Origin"))
	// Output: *
}
