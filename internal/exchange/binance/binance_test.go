package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-signals/internal/model"
)

func TestParseKlineMessage(t *testing.T) {
	raw := []byte(`{"e":"kline","E":1672515782136,"s":"BTCUSDT","k":{"t":1672515780000,"T":1672515839999,"i":"1m","o":"16500.10","c":"16510.00","h":"16520.50","l":"16490.00","v":"12.5","x":false}}`)
	u, err := ParseKlineMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := model.RawUpdate{Time: 1672515780, Open: 16500.10, High: 16520.50, Low: 16490, Close: 16510, Volume: 12.5}
	if u != want {
		t.Errorf("got %+v, want %+v", u, want)
	}
}

func TestParseKlineMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"e":"trade"}`,
		`{"e":"kline","k":{"o":"1","h":"1","l":"1","c":"1","v":"1"}}`,
		`{"e":"kline","k":{"t":60000,"o":"x","h":"1","l":"1","c":"1","v":"1"}}`,
		`{"e":"kline","k":{"t":60000,"o":"1","h":"1","l":"2","c":"1","v":"1"}}`,
	} {
		if _, err := ParseKlineMessage([]byte(raw)); !model.IsDataFormat(err) {
			t.Errorf("%s: expected DataFormatError, got %v", raw, err)
		}
	}
}

func TestEncodeKlineMessage_RoundTrip(t *testing.T) {
	u := model.RawUpdate{Time: 120, Open: 1.5, High: 2, Low: 1, Close: 1.75, Volume: 3}
	raw, err := EncodeKlineMessage("BTCUSDT", "1m", u, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseKlineMessage(raw)
	if err != nil || got != u {
		t.Fatalf("round trip: got %+v err=%v", got, err)
	}
}

func TestStream_URL(t *testing.T) {
	s := NewStream(StreamConfig{BaseURL: "ws://localhost:9001/"})
	got := s.URL(model.Instrument{Symbol: "BTCUSDT", Interval: "1m"})
	if got != "ws://localhost:9001/ws/btcusdt@kline_1m" {
		t.Errorf("unexpected URL %s", got)
	}
}

func TestStream_ReceivesUpdatesAndSkipsMalformed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/btcusdt@kline_1m" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		good, _ := EncodeKlineMessage("BTCUSDT", "1m", model.RawUpdate{Time: 60, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}, false)
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, good)
		// keep the connection open until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	s := NewStream(StreamConfig{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	malformed := 0
	s.OnMalformed = func(error) { malformed++ }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.RawUpdate, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Stream(ctx, model.Instrument{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"}, out)
	}()

	select {
	case u := <-out:
		if u.Time != 60 {
			t.Errorf("unexpected update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("cancelled stream must return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if malformed != 1 {
		t.Errorf("expected 1 malformed message, got %d", malformed)
	}
}

func TestREST_Klines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("limit") != "2" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[
			[1672515720000,"100.0","110.0","95.0","105.0","7.5",1672515779999,"0",1,"0","0","0"],
			[1672515780000,"105.0","112.0","101.0","111.0","3.0",1672515839999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	candles, err := NewREST(srv.URL, nil).Klines(context.Background(), model.Instrument{Symbol: "btcusdt", Interval: "1m"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	want := model.Candle{Timestamp: 1672515720, Open: 100, High: 110, Low: 95, Close: 105, Volume: 7.5, IsFinal: true}
	if candles[0] != want {
		t.Errorf("got %+v, want %+v", candles[0], want)
	}
}

func TestREST_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewREST(srv.URL, nil).Klines(context.Background(), model.Instrument{Symbol: "NOPE", Interval: "1m"}, 10); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
