package model

import (
	"context"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete storage
// implementations (Redis, SQLite).

// CandleWriter persists finalized candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan KeyedCandle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads finalized candles for backtests and historical queries.
type CandleReader interface {
	// ReadCandles returns up to limit candles of one stream with
	// timestamp >= fromTS, oldest first. limit <= 0 means no limit.
	ReadCandles(inst Instrument, fromTS int64, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// LivePublisher broadcasts live candles and signals to other processes.
type LivePublisher interface {
	PublishLive(ctx context.Context, inst Instrument, lc LiveCandle) error
	PublishSignal(ctx context.Context, ev SignalEvent) error
}
