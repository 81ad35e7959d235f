// Package redis shares live candles and signals between processes: the
// collector publishes, signal servers in relay mode subscribe.
//
// Key layout for a stream (interval, exchange, symbol):
//
//	candle:{iv}:{ex}:{sym}           XADD finalized candles
//	candle:{iv}:latest:{ex}:{sym}    SET last finalized candle
//	signal:{iv}:{ex}:{sym}           XADD signal events
//	pub:live:{iv}:{ex}:{sym}         PUBLISH live candles
//	pub:signal:{iv}:{ex}:{sym}       PUBLISH signal events
//	signals:settings                 SET active settings (JSON)
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-signals/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	candleStreamMaxLen = 10000
	signalStreamMaxLen = 5000
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes candles and signals. It satisfies model.LivePublisher.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

func newClient(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client, err := newClient(cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

func liveChannel(inst model.Instrument) string {
	return "pub:live:" + inst.Interval + ":" + inst.Exchange + ":" + inst.Symbol
}

func signalChannel(inst model.Instrument) string {
	return "pub:signal:" + inst.Interval + ":" + inst.Exchange + ":" + inst.Symbol
}

func latestKey(inst model.Instrument) string {
	return "candle:" + inst.Interval + ":latest:" + inst.Exchange + ":" + inst.Symbol
}

// Run reads finalized candles from candleCh and appends them to their
// streams. Forming candles are ignored. Blocks until ctx is cancelled or
// candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.KeyedCandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case kc, ok := <-candleCh:
			if !ok {
				return
			}
			if !kc.IsFinal {
				continue
			}
			if err := w.WriteCandle(ctx, kc); err != nil {
				log.Printf("[redis] pipeline error for %s: %v", kc.Key(), err)
			}
		}
	}
}

// WriteCandle appends a finalized candle to its stream and updates the
// latest key in one pipeline.
func (w *Writer) WriteCandle(ctx context.Context, kc model.KeyedCandle) error {
	data := string(kc.Candle.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: kc.StreamKey(),
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, latestKey(kc.Instrument), data, defaultLatestTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PublishLive broadcasts a live candle on the stream's pub channel.
func (w *Writer) PublishLive(ctx context.Context, inst model.Instrument, lc model.LiveCandle) error {
	return w.client.Publish(ctx, liveChannel(inst), lc.JSON()).Err()
}

// PublishSignal appends a signal to the signal stream and broadcasts it.
func (w *Writer) PublishSignal(ctx context.Context, ev model.SignalEvent) error {
	data := string(ev.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, signalChannel(ev.Instrument), data)
	_, err := pipe.Exec(ctx)
	return err
}

const settingsKey = "signals:settings"

// SaveSettings stores the active settings without expiry.
func (w *Writer) SaveSettings(ctx context.Context, data []byte) error {
	return w.client.Set(ctx, settingsKey, data, 0).Err()
}

// LoadSettings returns the stored settings. ok is false if none were saved.
func (w *Writer) LoadSettings(ctx context.Context) ([]byte, bool, error) {
	data, err := w.client.Get(ctx, settingsKey).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", settingsKey, err)
	}
	return data, true, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
