package redis

import (
	"context"
	"fmt"
	"log"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"

	"trading-signals/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader consumes what a Writer publishes.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client, err := newClient(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// SubscribeLive relays live candles published for inst into out until ctx
// is cancelled. Undecodable messages are skipped.
func (r *Reader) SubscribeLive(ctx context.Context, inst model.Instrument, out chan<- model.LiveCandle) error {
	sub := r.client.Subscribe(ctx, liveChannel(inst))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", liveChannel(inst), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscribe %s: channel closed", liveChannel(inst))
			}
			var lc model.LiveCandle
			if err := sonic.UnmarshalString(msg.Payload, &lc); err != nil {
				log.Printf("[redis-reader] bad live payload on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case out <- lc:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// RecentSignals returns up to count of the latest signal events of a
// stream, oldest first.
func (r *Reader) RecentSignals(ctx context.Context, inst model.Instrument, count int64) ([]model.SignalEvent, error) {
	key := (&model.SignalEvent{Instrument: inst}).StreamKey()
	msgs, err := r.client.XRevRangeN(ctx, key, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", key, err)
	}

	events := make([]model.SignalEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var ev model.SignalEvent
		if err := sonic.UnmarshalString(data, &ev); err != nil {
			log.Printf("[redis-reader] bad signal entry %s: %v", msgs[i].ID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// LatestCandle returns the last finalized candle of a stream. ok is false
// if none was written within the TTL.
func (r *Reader) LatestCandle(ctx context.Context, inst model.Instrument) (c model.Candle, ok bool, err error) {
	data, err := r.client.Get(ctx, latestKey(inst)).Result()
	if err == goredis.Nil {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("redis GET %s: %w", latestKey(inst), err)
	}
	if err := sonic.UnmarshalString(data, &c); err != nil {
		return c, false, fmt.Errorf("redis decode %s: %w", latestKey(inst), err)
	}
	return c, true, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
