// Package binance implements the Binance spot kline stream and REST clients.
package binance

import (
	"context"
	"log"
	"strings"

	"github.com/gorilla/websocket"

	"trading-signals/internal/model"
)

// DefaultStreamURL is the public market data stream endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443"

// StreamConfig holds configuration for the kline stream client.
type StreamConfig struct {
	// BaseURL of the stream server, e.g. "wss://stream.binance.com:9443" or
	// a local simulator "ws://localhost:9001".
	BaseURL string
}

// Stream is a kline WebSocket client. It satisfies exchange.Feed.
type Stream struct {
	cfg StreamConfig

	// Optional hooks
	OnConnect   func(inst model.Instrument)
	OnMalformed func(err error)
}

// NewStream creates a kline stream client.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultStreamURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Stream{cfg: cfg}
}

// URL returns the stream URL for an instrument: {base}/ws/{symbol}@kline_{interval}.
func (s *Stream) URL(inst model.Instrument) string {
	return s.cfg.BaseURL + "/ws/" + strings.ToLower(inst.Symbol) + "@kline_" + inst.Interval
}

// Stream connects once and pushes raw updates into out until ctx is
// cancelled or the connection drops. Malformed messages are skipped.
func (s *Stream) Stream(ctx context.Context, inst model.Instrument, out chan<- model.RawUpdate) error {
	url := s.URL(inst)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[binance] connected to %s", url)
	if s.OnConnect != nil {
		s.OnConnect(inst)
	}

	// Closes the connection when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		u, err := ParseKlineMessage(raw)
		if err != nil {
			log.Printf("[binance] %s: %v", inst.Key(), err)
			if s.OnMalformed != nil {
				s.OnMalformed(err)
			}
			continue
		}

		select {
		case out <- u:
		case <-ctx.Done():
			return nil
		}
	}
}
