// Package exchange defines the ports through which candle data enters the
// system and a registry of the concrete exchange clients.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"trading-signals/internal/model"
)

// Feed streams raw kline updates for one instrument.
type Feed interface {
	// Stream holds a single connection open and sends updates to out until
	// ctx is cancelled (returns nil) or the connection fails (returns the
	// error). It never reconnects; callers decide whether to retry.
	Stream(ctx context.Context, inst model.Instrument, out chan<- model.RawUpdate) error
}

// History fetches recent finalized candles over REST.
type History interface {
	// Klines returns up to limit of the most recent candles, oldest first.
	Klines(ctx context.Context, inst model.Instrument, limit int) ([]model.Candle, error)
}

// Registry maps exchange names to their clients.
type Registry struct {
	feeds     map[string]Feed
	histories map[string]History
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		feeds:     make(map[string]Feed),
		histories: make(map[string]History),
	}
}

// RegisterFeed adds a live feed under name.
func (r *Registry) RegisterFeed(name string, f Feed) {
	r.feeds[strings.ToLower(name)] = f
}

// RegisterHistory adds a historical client under name.
func (r *Registry) RegisterHistory(name string, h History) {
	r.histories[strings.ToLower(name)] = h
}

// Feed returns the live feed registered under name.
func (r *Registry) Feed(name string) (Feed, error) {
	f, ok := r.feeds[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("exchange %q has no live feed (available: %s)", name, names(r.feeds))
	}
	return f, nil
}

// History returns the historical client registered under name.
func (r *Registry) History(name string) (History, error) {
	h, ok := r.histories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("exchange %q has no history client (available: %s)", name, names(r.histories))
	}
	return h, nil
}

func names[T any](m map[string]T) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
