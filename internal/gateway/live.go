package gateway

import (
	"context"
	"errors"
	"log"

	"trading-signals/internal/model"
	"trading-signals/internal/store/redis"
	"trading-signals/internal/stream"
)

var errNoLive = errors.New("live streaming is not configured")

// LiveSource opens a live candle stream. The returned channel is closed when
// ctx is cancelled or the stream ends.
type LiveSource interface {
	Live(ctx context.Context, inst model.Instrument) (<-chan model.LiveCandle, error)
}

// ManagerSource serves live candles from in-process stream sessions.
type ManagerSource struct {
	m *stream.Manager
}

// NewManagerSource wraps a stream manager.
func NewManagerSource(m *stream.Manager) *ManagerSource {
	return &ManagerSource{m: m}
}

func (s *ManagerSource) Live(ctx context.Context, inst model.Instrument) (<-chan model.LiveCandle, error) {
	sub, err := s.m.Subscribe(inst)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub.C, nil
}

// liveSubscriber is implemented by *redis.Reader.
type liveSubscriber interface {
	SubscribeLive(ctx context.Context, inst model.Instrument, out chan<- model.LiveCandle) error
	LatestCandle(ctx context.Context, inst model.Instrument) (model.Candle, bool, error)
	RecentSignals(ctx context.Context, inst model.Instrument, count int64) ([]model.SignalEvent, error)
}

var _ liveSubscriber = (*redis.Reader)(nil)

// RelaySource serves live candles published to Redis by a collector. A new
// client first gets the last finalized candle, marked with the signal raised
// on it if any, so it does not wait a full interval for data.
type RelaySource struct {
	sub liveSubscriber
	buf int
}

// NewRelaySource relays from r with a per-client buffer of buf candles.
func NewRelaySource(r liveSubscriber, buf int) *RelaySource {
	if buf <= 0 {
		buf = 64
	}
	return &RelaySource{sub: r, buf: buf}
}

func (s *RelaySource) Live(ctx context.Context, inst model.Instrument) (<-chan model.LiveCandle, error) {
	out := make(chan model.LiveCandle, s.buf)
	if lc, ok := s.latest(ctx, inst); ok {
		out <- lc
	}
	go func() {
		defer close(out)
		if err := s.sub.SubscribeLive(ctx, inst, out); err != nil {
			log.Printf("[gateway] relay %s: %v", inst.Key(), err)
		}
	}()
	return out, nil
}

func (s *RelaySource) latest(ctx context.Context, inst model.Instrument) (model.LiveCandle, bool) {
	c, ok, err := s.sub.LatestCandle(ctx, inst)
	if err != nil {
		log.Printf("[gateway] relay %s: latest candle: %v", inst.Key(), err)
		return model.LiveCandle{}, false
	}
	if !ok {
		return model.LiveCandle{}, false
	}
	lc := model.NewLiveCandle(c)
	lc.IsFinal = true

	events, err := s.sub.RecentSignals(ctx, inst, 1)
	if err != nil {
		log.Printf("[gateway] relay %s: recent signals: %v", inst.Key(), err)
		return lc, true
	}
	if len(events) > 0 && int64(events[0].Timestamp) == c.Timestamp {
		lc = lc.WithSignal(events[0].Side)
	}
	return lc, true
}
