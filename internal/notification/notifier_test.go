package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-signals/internal/model"
)

func event() model.SignalEvent {
	return model.SignalEvent{
		Instrument: model.Instrument{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"},
		Strategy:   "sma_crossover",
		Signal:     model.Signal{Timestamp: 1704067200, Price: 42000.5, Side: model.Buy},
	}
}

func TestSignalAlert(t *testing.T) {
	a := SignalAlert(event())
	if a.Title != "BUY BTCUSDT 1m" {
		t.Errorf("title = %q", a.Title)
	}
	for _, want := range []string{"sma_crossover", "42000.5", "2024-01-01 00:00:00", "binance:BTCUSDT:1m"} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("message %q missing %q", a.Message, want)
		}
	}
	if a.Event == nil || a.Event.Side != model.Buy {
		t.Errorf("event = %+v", a.Event)
	}
}

type recorder struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Alert
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, a)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestDispatcherSendJoinsErrors(t *testing.T) {
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("down")}
	d := NewDispatcher(1, ok, bad, NewLogNotifier())

	results := map[string]error{}
	d.OnResult = func(ch string, err error) { results[ch] = err }

	err := d.Send(context.Background(), Alert{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "bad: down") {
		t.Fatalf("err = %v, want bad: down", err)
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Errorf("deliveries ok=%d bad=%d, want 1 each", ok.count(), bad.count())
	}
	if len(results) != 3 || results["ok"] != nil || results["bad"] == nil || results["log"] != nil {
		t.Errorf("results = %v", results)
	}
}

func TestDispatcherQueue(t *testing.T) {
	r := &recorder{name: "r"}
	d := NewDispatcher(2, r)

	if !d.NotifySignal(event()) || !d.NotifySignal(event()) {
		t.Fatal("queue should accept two alerts")
	}
	if d.NotifySignal(event()) {
		t.Fatal("full queue must drop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if r.count() != 2 {
		t.Errorf("delivered = %d, want 2", r.count())
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), SignalAlert(event())); err != nil {
		t.Fatal(err)
	}
	if got["level"] != "INFO" || got["title"] != "BUY BTCUSDT 1m" || got["ts"] == nil {
		t.Errorf("payload = %v", got)
	}
	ev, _ := got["event"].(map[string]any)
	if ev["type"] != "BUY" || ev["strategy"] != "sma_crossover" {
		t.Errorf("event = %v", ev)
	}
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status 502", err)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var mu sync.Mutex
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botTOKEN/getMe":
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"signals","username":"signals_bot"}}`))
		case "/botTOKEN/sendMessage":
			r.ParseForm()
			mu.Lock()
			form = map[string]string{
				"chat_id":    r.PostForm.Get("chat_id"),
				"text":       r.PostForm.Get("text"),
				"parse_mode": r.PostForm.Get("parse_mode"),
			}
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	defer srv.Close()

	tg, err := newTelegram("TOKEN", srv.URL+"/bot%s/%s", 42)
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Send(context.Background(), Alert{Level: AlertWarning, Title: "feed.down", Message: "retry in 5s"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if form["chat_id"] != "42" || form["parse_mode"] != "MarkdownV2" {
		t.Errorf("form = %v", form)
	}
	if !strings.Contains(form["text"], `*feed\.down*`) || !strings.Contains(form["text"], "⚠️") {
		t.Errorf("text = %q, want escaped title and warning emoji", form["text"])
	}
}

func TestTelegramRequiresChatID(t *testing.T) {
	if _, err := newTelegram("TOKEN", "http://127.0.0.1:1/bot%s/%s", 0); err == nil {
		t.Error("expected error for zero chat id")
	}
}
