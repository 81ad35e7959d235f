// Package replay plays stored candles back at a configurable speed, either
// as finalized candles or as a live feed for the streaming pipeline.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"trading-signals/internal/model"
)

// maxGap caps the sleep between two replayed candles.
const maxGap = 5 * time.Second

// Replayer reads historical candles and replays them at a configurable
// speed multiplier.
type Replayer struct {
	reader model.CandleReader
	fromTS int64
	speed  float64
}

// New creates a Replayer. speed controls the playback rate: 1.0 =
// real-time, 10.0 = 10x, 0 = as fast as possible. fromTS filters candles to
// those at or after this Unix timestamp (0 = all).
func New(reader model.CandleReader, fromTS int64, speed float64) *Replayer {
	return &Replayer{reader: reader, fromTS: fromTS, speed: speed}
}

// Run replays the candles of every instrument in timestamp order,
// interleaving instruments, and emits them into out. It does not close out.
func (r *Replayer) Run(ctx context.Context, insts []model.Instrument, out chan<- model.KeyedCandle) error {
	var all []model.KeyedCandle
	for _, inst := range insts {
		candles, err := r.reader.ReadCandles(inst, r.fromTS, 0)
		if err != nil {
			return err
		}
		for _, c := range candles {
			c.IsFinal = true
			all = append(all, model.KeyedCandle{Instrument: inst, Candle: c})
		}
	}
	if len(all) == 0 {
		log.Println("[replay] no candles found")
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	log.Printf("[replay] loaded %d candles across %d streams, speed=%.1fx", len(all), len(insts), r.speed)

	var prev int64
	for i, kc := range all {
		if i > 0 {
			if err := r.wait(ctx, kc.Timestamp-prev); err != nil {
				log.Printf("[replay] cancelled after %d candles", i)
				return err
			}
		}
		prev = kc.Timestamp

		select {
		case out <- kc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("[replay] completed: %d candles replayed", len(all))
	return nil
}

// Stream replays the candles of one instrument as raw updates, which lets a
// stream.Session consume stored data like a live feed. It satisfies
// exchange.Feed and returns nil once every candle was sent.
func (r *Replayer) Stream(ctx context.Context, inst model.Instrument, out chan<- model.RawUpdate) error {
	candles, err := r.reader.ReadCandles(inst, r.fromTS, 0)
	if err != nil {
		return err
	}
	log.Printf("[replay] streaming %d candles of %s", len(candles), inst.Key())

	for i, c := range candles {
		if i > 0 {
			if err := r.wait(ctx, c.Timestamp-candles[i-1].Timestamp); err != nil {
				return nil
			}
		}
		u := model.RawUpdate{Time: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		select {
		case out <- u:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// wait sleeps for a gap of gapSeconds scaled by the replay speed.
func (r *Replayer) wait(ctx context.Context, gapSeconds int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.speed <= 0 || gapSeconds <= 0 {
		return nil
	}
	d := time.Duration(float64(time.Duration(gapSeconds)*time.Second) / r.speed)
	if d > maxGap {
		d = maxGap
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
