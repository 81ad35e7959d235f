package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"trading-signals/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// client is one WebSocket peer following a single live stream.
type client struct {
	conn *websocket.Conn
	inst model.Instrument
}

// handleWS upgrades the request and streams live candles for the instrument
// named by the exchange, symbol and interval query parameters. A non-empty
// exchange pins the route to that exchange.
func (s *Server) handleWS(exchangeName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Live == nil {
			writeError(w, http.StatusServiceUnavailable, errNoLive)
			return
		}
		q := r.URL.Query()
		ex := q.Get("exchange")
		if exchangeName != "" {
			ex = exchangeName
		}
		inst, err := instrumentFrom(ex, q.Get("symbol"), q.Get("interval"), s.deps.Store.Load().Settings.Instrument())
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		live, err := s.deps.Live.Live(ctx, inst)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		log.Printf("[gateway] ws client connected: %s", inst.Key())

		c := &client{conn: conn, inst: inst}
		go c.writePump(ctx, live)
		c.readPump()
	}
}

// writePump forwards live candles to the peer until the stream ends or ctx
// is cancelled, pinging every pingPeriod.
func (c *client) writePump(ctx context.Context, live <-chan model.LiveCandle) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case lc, ok := <-live:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, lc.JSON()); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
			return
		}
	}
}

// readPump discards peer messages and returns once the connection fails.
func (c *client) readPump() {
	defer log.Printf("[gateway] ws client disconnected: %s", c.inst.Key())

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
