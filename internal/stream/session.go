// Package stream runs the live pipeline of one (exchange, symbol, interval)
// stream: exchange feed -> finalizer -> indicators and strategies -> live
// candles. Manager shares one running Session among many subscribers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"

	"trading-signals/internal/exchange"
	"trading-signals/internal/indicator"
	"trading-signals/internal/marketdata/finalizer"
	"trading-signals/internal/model"
	"trading-signals/internal/strategy"
)

// ErrFeedClosed is returned by Run when the feed ends without an error while
// the session is still wanted.
var ErrFeedClosed = errors.New("stream: feed closed")

// Options configures a session. Values are copied when the session starts;
// later changes apply to new sessions only.
type Options struct {
	Strategies   []string
	Params       strategy.Params
	Indicators   []indicator.Config
	HistoryLimit int  // finalized candles fetched to warm up state, 0 disables
	Merge        bool // fold per-trade updates instead of replacing
	UpdateBuffer int
}

// DefaultOptions streams the SMA crossover with default parameters.
func DefaultOptions() Options {
	return Options{
		Strategies:   []string{strategy.NameSMACrossover},
		Params:       strategy.DefaultParams(),
		UpdateBuffer: 64,
	}
}

// Session owns the streaming state of one stream. State lives only as long
// as Run; a session is not restarted after its feed ends.
type Session struct {
	inst    model.Instrument
	feed    exchange.Feed
	history exchange.History
	opts    Options

	fin    *finalizer.Finalizer
	set    *indicator.Set
	engine *strategy.Engine
	sma    *strategy.SMACrossover
	// smaOwned is true when sma is not registered with engine and must be
	// advanced by the session itself.
	smaOwned bool

	seededTo  int64
	hasSeeded bool

	// Hooks (optional)
	OnFinal     func(kc model.KeyedCandle)
	OnSignal    func(ev model.SignalEvent)
	OnMalformed func(err error)
}

// NewSession builds a session. history may be nil.
func NewSession(inst model.Instrument, feed exchange.Feed, history exchange.History, opts Options) (*Session, error) {
	width, err := inst.Width()
	if err != nil {
		return nil, err
	}
	fin, err := finalizer.New(width)
	if err != nil {
		return nil, err
	}
	fin.Merge = opts.Merge

	s := &Session{
		inst:    inst,
		feed:    feed,
		history: history,
		opts:    opts,
		fin:     fin,
		set:     indicator.NewSet(opts.Indicators),
		engine:  strategy.NewEngine(inst),
		sma:     strategy.NewSMACrossover(opts.Params.SMAWindow),
	}
	fin.OnMalformed = func(err error) {
		if s.OnMalformed != nil {
			s.OnMalformed(err)
		}
	}

	s.smaOwned = true
	for _, name := range opts.Strategies {
		if name == strategy.NameSMACrossover {
			s.engine.Register(s.sma)
			s.smaOwned = false
			continue
		}
		st, err := strategy.New(name, opts.Params)
		if err != nil {
			return nil, err
		}
		s.engine.Register(st)
	}
	return s, nil
}

// Seed warms up indicators and strategies with finalized history. No
// signals are raised for seeded candles.
func (s *Session) Seed(history []model.Candle) {
	if len(history) == 0 {
		return
	}
	for _, c := range history {
		c.IsFinal = true
		s.set.Process(c)
	}
	s.engine.Seed(history)
	if s.smaOwned {
		s.sma.Seed(history)
	}
	s.seededTo, s.hasSeeded = history[len(history)-1].Timestamp, true
}

// Handle runs one finalizer output through the indicators and strategies and
// returns the live payload plus the signals raised. ok is false for final
// candles already covered by the seeded history.
func (s *Session) Handle(c model.Candle) (lc model.LiveCandle, events []model.SignalEvent, ok bool) {
	if c.IsFinal && s.hasSeeded && c.Timestamp <= s.seededTo {
		return lc, nil, false
	}

	lc = model.NewLiveCandle(c)
	lc.Indicators = s.set.Process(c)
	if c.IsFinal {
		events = s.engine.Process(c)
		if s.smaOwned {
			s.sma.OnCandle(c)
		}
	}
	if v, ready := s.sma.SMA(); ready {
		lc = lc.WithSMA(v)
	}
	if len(events) > 0 {
		lc = lc.WithSignal(events[0].Side)
	}
	return lc, events, true
}

// Run connects the feed and writes live candles to out until ctx is
// cancelled or the feed ends. out is closed on return and all streaming
// state is discarded.
func (s *Session) Run(ctx context.Context, out chan<- model.LiveCandle) error {
	defer close(out)
	defer s.fin.Reset()
	defer func() {
		if ts, ok := s.fin.LastClosed(); ok {
			log.Printf("[stream] %s: stopped after bucket %d", s.inst.Key(), ts)
		}
	}()

	if s.history != nil && s.opts.HistoryLimit > 0 {
		hist, err := s.history.Klines(ctx, s.inst, s.opts.HistoryLimit)
		if err != nil {
			log.Printf("[stream] %s: history seed failed: %v", s.inst.Key(), err)
		} else {
			s.Seed(hist)
			log.Printf("[stream] %s: seeded %d candles", s.inst.Key(), len(hist))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bufSize := s.opts.UpdateBuffer
	if bufSize <= 0 {
		bufSize = 64
	}
	updates := make(chan model.RawUpdate, bufSize)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.feed.Stream(ctx, s.inst, updates)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			// deliver what the feed wrote before it stopped
		drain:
			for {
				select {
				case u := <-updates:
					if !s.step(ctx, u, out) {
						return nil
					}
				default:
					break drain
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = ErrFeedClosed
			}
			return fmt.Errorf("stream %s: %w", s.inst.Key(), err)
		case u := <-updates:
			if !s.step(ctx, u, out) {
				return nil
			}
		}
	}
}

// step processes one update. It returns false when ctx is done.
func (s *Session) step(ctx context.Context, u model.RawUpdate, out chan<- model.LiveCandle) bool {
	candles, err := s.fin.Step(u)
	if err != nil {
		log.Printf("[stream] %s: dropping update: %v", s.inst.Key(), err)
		return true
	}
	for _, c := range candles {
		lc, events, ok := s.Handle(c)
		if !ok {
			continue
		}
		if c.IsFinal && s.OnFinal != nil {
			s.OnFinal(model.KeyedCandle{Instrument: s.inst, Candle: c})
		}
		for _, ev := range events {
			log.Printf("[stream] %s: %s %s @ %.8g", s.inst.Key(), ev.Strategy, ev.Side, ev.Price)
			if s.OnSignal != nil {
				s.OnSignal(ev)
			}
		}
		select {
		case out <- lc:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
