package kucoin

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"trading-signals/internal/model"
)

// Stream is a KuCoin candle WebSocket client. It satisfies exchange.Feed.
//
// Connecting takes two steps: a public token is requested over REST, then
// the socket is opened on the returned instance server and subscribed to
// /market/candles:{SYMBOL}_{type}.
type Stream struct {
	rest *REST

	// Optional hooks
	OnConnect   func(inst model.Instrument)
	OnMalformed func(err error)
}

// NewStream creates a stream client that obtains tokens through rest.
func NewStream(rest *REST) *Stream {
	return &Stream{rest: rest}
}

type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // ms
		} `json:"instanceServers"`
	} `json:"data"`
}

type wsMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Subject string `json:"subject,omitempty"`
	Data    struct {
		Symbol  string   `json:"symbol"`
		Candles []string `json:"candles"`
	} `json:"data"`
}

// Topic returns the candle subscription topic for an instrument.
func Topic(inst model.Instrument) (string, error) {
	typ, ok := intervalTypes[inst.Interval]
	if !ok {
		return "", &model.DataFormatError{Field: "interval", Reason: fmt.Sprintf("unsupported by kucoin: %q", inst.Interval)}
	}
	return "/market/candles:" + Symbol(inst.Symbol) + "_" + typ, nil
}

// endpoint requests a public token and returns the socket URL and the
// ping interval.
func (s *Stream) endpoint(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rest.baseURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := s.rest.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("kucoin token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("kucoin token: read body: %w", err)
	}
	var br bulletResponse
	if err := sonic.Unmarshal(body, &br); err != nil {
		return "", 0, fmt.Errorf("kucoin token: decode: %w", err)
	}
	if br.Code != "200000" || br.Data.Token == "" || len(br.Data.InstanceServers) == 0 {
		return "", 0, fmt.Errorf("kucoin token: unexpected response code %q", br.Code)
	}

	srv := br.Data.InstanceServers[0]
	ping := time.Duration(srv.PingInterval) * time.Millisecond
	if ping <= 0 {
		ping = 18 * time.Second
	}
	connectID := strconv.FormatInt(time.Now().UnixNano(), 10)
	return srv.Endpoint + "?token=" + br.Data.Token + "&connectId=" + connectID, ping, nil
}

// Stream connects once and pushes raw updates into out until ctx is
// cancelled or the connection drops.
func (s *Stream) Stream(ctx context.Context, inst model.Instrument, out chan<- model.RawUpdate) error {
	topic, err := Topic(inst)
	if err != nil {
		return err
	}
	url, pingEvery, err := s.endpoint(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("kucoin dial: %w", err)
	}
	defer conn.Close()

	// gorilla allows one concurrent writer
	var writeMu sync.Mutex
	write := func(v interface{}) error {
		b, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if err := write(map[string]interface{}{
		"id":       strconv.FormatInt(time.Now().UnixNano(), 10),
		"type":     "subscribe",
		"topic":    topic,
		"response": true,
	}); err != nil {
		return fmt.Errorf("kucoin subscribe: %w", err)
	}

	log.Printf("[kucoin] subscribed to %s", topic)
	if s.OnConnect != nil {
		s.OnConnect(inst)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				writeMu.Unlock()
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				write(map[string]string{"id": strconv.FormatInt(time.Now().UnixNano(), 10), "type": "ping"})
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		u, ok, err := ParseCandleMessage(raw)
		if err != nil {
			log.Printf("[kucoin] %s: %v", inst.Key(), err)
			if s.OnMalformed != nil {
				s.OnMalformed(err)
			}
			continue
		}
		if !ok {
			continue // control message
		}

		select {
		case out <- u:
		case <-ctx.Done():
			return nil
		}
	}
}

// ParseCandleMessage decodes a socket message. ok is false for control
// messages that carry no candle.
func ParseCandleMessage(raw []byte) (u model.RawUpdate, ok bool, err error) {
	var msg wsMessage
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return u, false, &model.DataFormatError{Field: "message", Reason: err.Error()}
	}
	if msg.Type == "error" {
		return u, false, fmt.Errorf("kucoin error message: %s", strings.TrimSpace(string(raw)))
	}
	if msg.Type != "message" || !strings.HasPrefix(msg.Subject, "trade.candles") {
		return u, false, nil
	}

	c, err := parseRow(msg.Data.Candles)
	if err != nil {
		return u, false, err
	}
	u = model.RawUpdate{Time: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	return u, true, u.Validate()
}
