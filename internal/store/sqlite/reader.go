package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	"trading-signals/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored candles. It satisfies
// model.CandleReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles returns candles of one stream with ts >= fromTS, oldest first.
// When limit > 0 only the most recent limit candles are returned.
func (r *Reader) ReadCandles(inst model.Instrument, fromTS int64, limit int) ([]model.Candle, error) {
	query := `
		SELECT ts, open, high, low, close, volume FROM candles
		WHERE exchange = ? AND symbol = ? AND interval = ? AND ts >= ?
		ORDER BY ts DESC`
	args := []any{inst.Exchange, inst.Symbol, inst.Interval, fromTS}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c := model.Candle{IsFinal: true}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest first from the query
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Instruments lists the streams that have stored candles.
func (r *Reader) Instruments() ([]model.Instrument, error) {
	rows, err := r.db.Query(`SELECT DISTINCT exchange, symbol, interval FROM candles ORDER BY exchange, symbol, interval`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		if err := rows.Scan(&inst.Exchange, &inst.Symbol, &inst.Interval); err != nil {
			return nil, fmt.Errorf("sqlite scan instruments: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
