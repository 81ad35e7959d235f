package redis

import (
	"context"
	"log"
	"sync"

	"trading-signals/internal/model"
)

// publisher is the subset of Writer used by BufferedWriter.
type publisher interface {
	WriteCandle(ctx context.Context, kc model.KeyedCandle) error
	PublishLive(ctx context.Context, inst model.Instrument, lc model.LiveCandle) error
	PublishSignal(ctx context.Context, ev model.SignalEvent) error
}

// pendingWrite is a durable write held back while the breaker is open.
// Live candles are never buffered: they are stale by the time Redis is back.
type pendingWrite struct {
	candle *model.KeyedCandle
	signal *model.SignalEvent
}

// BufferedWriter wraps a Writer with a circuit breaker. While the breaker
// is open, finalized candles and signals are buffered locally and replayed
// when it closes again.
type BufferedWriter struct {
	w   publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // oldest writes are dropped beyond this

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter. ctx bounds replayed writes.
func NewBufferedWriter(ctx context.Context, w publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		w:      w,
		cb:     cb,
		ctx:    ctx,
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// Run writes finalized candles from candleCh until ctx is cancelled or the
// channel is closed.
func (bw *BufferedWriter) Run(ctx context.Context, candleCh <-chan model.KeyedCandle) {
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
			if err := bw.WriteCandle(ctx, kc); err != nil {
				log.Printf("[redis] write %s: %v", kc.Key(), err)
			}
		}
	}
}

// WriteCandle writes a finalized candle, buffering it while the breaker is open.
func (bw *BufferedWriter) WriteCandle(ctx context.Context, kc model.KeyedCandle) error {
	err := bw.cb.Execute(func() error { return bw.w.WriteCandle(ctx, kc) })
	if err == ErrCircuitOpen {
		bw.push(pendingWrite{candle: &kc})
		return nil
	}
	return err
}

// PublishSignal publishes a signal, buffering it while the breaker is open.
func (bw *BufferedWriter) PublishSignal(ctx context.Context, ev model.SignalEvent) error {
	err := bw.cb.Execute(func() error { return bw.w.PublishSignal(ctx, ev) })
	if err == ErrCircuitOpen {
		bw.push(pendingWrite{signal: &ev})
		return nil
	}
	return err
}

// PublishLive publishes a live candle. It is dropped while the breaker is open.
func (bw *BufferedWriter) PublishLive(ctx context.Context, inst model.Instrument, lc model.LiveCandle) error {
	err := bw.cb.Execute(func() error { return bw.w.PublishLive(ctx, inst, lc) })
	if err == ErrCircuitOpen {
		return nil
	}
	return err
}

func (bw *BufferedWriter) push(pw pendingWrite) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pw)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes in arrival order.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	pending := bw.buffer
	bw.buffer = nil
	bw.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	flushed := 0
	for _, pw := range pending {
		var err error
		switch {
		case pw.candle != nil:
			err = bw.w.WriteCandle(bw.ctx, *pw.candle)
		case pw.signal != nil:
			err = bw.w.PublishSignal(bw.ctx, *pw.signal)
		}
		if err != nil {
			log.Printf("[buffered-writer] replay error: %v", err)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d/%d buffered writes", flushed, len(pending))
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
