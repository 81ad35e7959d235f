package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"trading-signals/internal/model"
)

var csvDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ReadCSV parses candles from a CSV file with a header row. Column names
// are matched case-insensitively: one of date, datetime, timestamp or time,
// plus open, high, low, close and an optional volume. Rows may come in any
// order; the result is sorted by timestamp.
func ReadCSV(r io.Reader) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol := -1
	for _, name := range []string{"datetime", "timestamp", "date", "time"} {
		if i, ok := col[name]; ok {
			timeCol = i
			break
		}
	}
	if timeCol < 0 {
		return nil, &model.DataFormatError{Field: "header", Reason: "no date, datetime, timestamp or time column"}
	}
	for _, name := range []string{"open", "high", "low", "close"} {
		if _, ok := col[name]; !ok {
			return nil, &model.DataFormatError{Field: "header", Reason: "missing column " + name}
		}
	}

	var out []model.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		c, err := parseRecord(rec, col, timeCol)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func parseRecord(rec []string, col map[string]int, timeCol int) (model.Candle, error) {
	ts, err := parseTime(rec[timeCol])
	if err != nil {
		return model.Candle{}, err
	}
	num := func(name string) (float64, error) {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return 0, nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0, &model.DataFormatError{Field: name, Reason: err.Error()}
		}
		return v, nil
	}

	u := model.RawUpdate{Time: ts}
	for _, f := range []struct {
		name string
		dst  *float64
	}{{"open", &u.Open}, {"high", &u.High}, {"low", &u.Low}, {"close", &u.Close}, {"volume", &u.Volume}} {
		if *f.dst, err = num(f.name); err != nil {
			return model.Candle{}, err
		}
	}
	if err := u.Validate(); err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		Timestamp: u.Time, Open: u.Open, High: u.High, Low: u.Low,
		Close: u.Close, Volume: u.Volume, IsFinal: true,
	}, nil
}

func parseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			n /= 1000
		}
		return n, nil
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, &model.DataFormatError{Field: "date", Reason: fmt.Sprintf("unrecognised date %q", s)}
}

// MemoryReader serves one in-memory series as a model.CandleReader for any
// instrument.
type MemoryReader struct {
	series []model.Candle
}

// NewMemoryReader wraps series, which must be sorted by timestamp.
func NewMemoryReader(series []model.Candle) *MemoryReader {
	return &MemoryReader{series: series}
}

func (m *MemoryReader) ReadCandles(_ model.Instrument, fromTS int64, limit int) ([]model.Candle, error) {
	i := sort.Search(len(m.series), func(i int) bool { return m.series[i].Timestamp >= fromTS })
	out := m.series[i:]
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]model.Candle(nil), out...), nil
}

func (m *MemoryReader) Close() error { return nil }
