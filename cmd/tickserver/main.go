// cmd/tickserver is a demo kline WebSocket server. It speaks the Binance
// kline stream format so the collector and signal server can run against it
// without touching a real exchange:
//
//	BINANCE_STREAM_URL=ws://localhost:9001 go run ./cmd/collector
//
// Each configured stream is served at /ws/{symbol}@kline_{interval} with a
// random-walk price. Updates of the forming candle are sent every tick and
// the candle is closed when the wall clock enters the next interval.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  : listen address (default: ":9001")
//	TICK_STREAMS      : comma-separated SYMBOL:interval pairs (default: "BTCUSDT:1m")
//	TICK_INTERVAL_MS  : broadcast interval milliseconds (default: "500")
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-signals/internal/exchange/binance"
	"trading-signals/internal/model"
)

// simStream holds per-stream simulation state.
type simStream struct {
	Symbol   string
	Interval string
	Width    int64

	price  float64
	candle model.RawUpdate
	hub    *hub
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop update
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsHandler routes /ws/{symbol}@kline_{interval} to the stream's hub.
func wsHandler(streams map[string]*simStream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.ToLower(strings.TrimPrefix(r.URL.Path, "/ws/"))
		s, ok := streams[name]
		if !ok {
			http.Error(w, "unknown stream "+name, http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected to %s: %s", name, r.RemoteAddr)

		ch := s.hub.register(conn)
		defer func() {
			s.hub.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Drain reads so close frames and pings are handled.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.hub.unregister(conn)
					return
				}
			}
		}()

		// Write pump: sends kline JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Kline generator ──────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// tick advances the stream to now and broadcasts the resulting messages:
// the closed previous candle when the bucket rolled over, then the forming
// candle.
func (s *simStream) tick(rng *rand.Rand, now time.Time) {
	s.price = walkPrice(rng, s.price)
	qty := float64(rng.Intn(100)+1) / 100
	bucket := model.BucketStart(now.Unix(), s.Width)

	if s.candle.Time != 0 && bucket != s.candle.Time {
		s.send(s.candle, true)
		s.candle = model.RawUpdate{}
	}
	if s.candle.Time == 0 {
		s.candle = model.RawUpdate{Time: bucket, Open: s.price, High: s.price, Low: s.price}
	}
	if s.price > s.candle.High {
		s.candle.High = s.price
	}
	if s.price < s.candle.Low {
		s.candle.Low = s.price
	}
	s.candle.Close = s.price
	s.candle.Volume += qty
	s.send(s.candle, false)
}

func (s *simStream) send(u model.RawUpdate, closed bool) {
	b, err := binance.EncodeKlineMessage(s.Symbol, s.Interval, u, closed)
	if err != nil {
		log.Printf("[tickserver] encode %s: %v", s.Symbol, err)
		return
	}
	s.hub.broadcast(b)
}

func runGenerator(streams []*simStream, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for now := range ticker.C {
		for _, s := range streams {
			s.tick(rng, now)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo kline server...")

	// Config
	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	streamsEnv := envOrDefault("TICK_STREAMS", "BTCUSDT:1m")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 500)

	list := parseStreams(streamsEnv)
	if len(list) == 0 {
		log.Fatalf("[tickserver] no streams configured via TICK_STREAMS")
	}
	byPath := make(map[string]*simStream, len(list))
	for _, s := range list {
		path := strings.ToLower(s.Symbol) + "@kline_" + s.Interval
		byPath[path] = s
		log.Printf("[tickserver] stream /ws/%s starting at %.2f", path, s.price)
	}
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	go runGenerator(list, intervalMs)

	// HTTP routes
	http.HandleFunc("/ws/", wsHandler(byPath))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] ✅ listening on %s  (WebSocket: ws://localhost%s/ws/<symbol>@kline_<interval>)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseStreams(s string) []*simStream {
	defaultPrices := map[string]float64{
		"BTCUSDT": 65000,
		"ETHUSDT": 3200,
		"SOLUSDT": 150,
	}

	var result []*simStream
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid stream spec: %q", part)
			continue
		}
		symbol, interval := strings.ToUpper(strings.TrimSpace(seg[0])), strings.TrimSpace(seg[1])
		width, err := model.IntervalSeconds(interval)
		if err != nil {
			log.Printf("[tickserver] skipping %q: %v", part, err)
			continue
		}
		price := defaultPrices[symbol]
		if price == 0 {
			price = 100
		}
		result = append(result, &simStream{
			Symbol:   symbol,
			Interval: interval,
			Width:    width,
			price:    price,
			hub:      newHub(),
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
