package stream

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"trading-signals/internal/exchange"
	"trading-signals/internal/marketdata/bus"
	"trading-signals/internal/model"
)

// Manager starts one Session per stream on first subscription and shares it
// through a bus.FanOut. The session is cancelled when its last subscriber
// leaves, and a fresh one is started on the next subscription.
type Manager struct {
	ctx     context.Context
	reg     *exchange.Registry
	options func() Options
	bufSize int

	mu       sync.Mutex
	sessions map[string]*entry

	// Hooks copied into every new session (optional)
	OnFinal     func(kc model.KeyedCandle)
	OnSignal    func(ev model.SignalEvent)
	OnMalformed func(err error)
	OnDrop      func(inst model.Instrument)
	OnEnd       func(inst model.Instrument, err error)
}

type entry struct {
	inst   model.Instrument
	fan    *bus.FanOut[model.LiveCandle]
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. Sessions run under ctx. options is called
// once per new session; nil means DefaultOptions.
func NewManager(ctx context.Context, reg *exchange.Registry, options func() Options, subscriberBuffer int) *Manager {
	if options == nil {
		options = DefaultOptions
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 256
	}
	return &Manager{
		ctx:      ctx,
		reg:      reg,
		options:  options,
		bufSize:  subscriberBuffer,
		sessions: make(map[string]*entry),
	}
}

// Subscription is one subscriber's view of a shared stream. C is closed when
// the stream ends or Close is called.
type Subscription struct {
	C <-chan model.LiveCandle

	m    *Manager
	e    *entry
	id   int
	once sync.Once
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.m.unsubscribe(s.e, s.id) })
}

// Subscribe joins the stream for inst, starting it if needed.
func (m *Manager) Subscribe(inst model.Instrument) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.Key()
	if e, ok := m.sessions[key]; ok {
		select {
		case <-e.done:
			// ended but not yet removed
		default:
			id, ch := e.fan.Subscribe()
			return &Subscription{C: ch, m: m, e: e, id: id}, nil
		}
	}

	e, sub, err := m.start(inst)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = e
	return sub, nil
}

// start builds a session and its fan-out and subscribes the first
// subscriber before any candle can flow. Callers hold m.mu.
func (m *Manager) start(inst model.Instrument) (*entry, *Subscription, error) {
	feed, err := m.reg.Feed(inst.Exchange)
	if err != nil {
		return nil, nil, err
	}
	history, _ := m.reg.History(inst.Exchange)

	sess, err := NewSession(inst, feed, history, m.options())
	if err != nil {
		return nil, nil, fmt.Errorf("stream %s: %w", inst.Key(), err)
	}
	sess.OnFinal = m.OnFinal
	sess.OnSignal = m.OnSignal
	sess.OnMalformed = m.OnMalformed

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		inst:   inst,
		fan:    bus.New[model.LiveCandle](m.bufSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if m.OnDrop != nil {
		e.fan.OnDrop = func(int) { m.OnDrop(inst) }
	}
	id, ch := e.fan.Subscribe()
	sub := &Subscription{C: ch, m: m, e: e, id: id}

	live := make(chan model.LiveCandle, m.bufSize)
	go e.fan.Run(ctx, live)
	go func() {
		err := sess.Run(ctx, live)
		if err != nil {
			log.Printf("[stream] %s ended: %v", inst.Key(), err)
		} else {
			log.Printf("[stream] %s stopped", inst.Key())
		}
		close(e.done)
		m.remove(e)
		if m.OnEnd != nil {
			m.OnEnd(inst, err)
		}
	}()
	log.Printf("[stream] %s started", inst.Key())
	return e, sub, nil
}

func (m *Manager) unsubscribe(e *entry, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.fan.Unsubscribe(id) > 0 {
		return
	}
	e.cancel()
	if m.sessions[e.inst.Key()] == e {
		delete(m.sessions, e.inst.Key())
	}
}

func (m *Manager) remove(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.cancel()
	if m.sessions[e.inst.Key()] == e {
		delete(m.sessions, e.inst.Key())
	}
}

// Active returns the streams currently running, sorted by key.
func (m *Manager) Active() []model.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Instrument, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// StreamStat describes the fan-out of one running stream. Backlog is the
// fullest subscriber queue and Capacity the size of each queue.
type StreamStat struct {
	model.Instrument
	Subscribers int
	Backlog     int
	Capacity    int
}

// Stats reports every running stream, sorted by key.
func (m *Manager) Stats() []StreamStat {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]StreamStat, 0, len(entries))
	for _, e := range entries {
		st := StreamStat{Instrument: e.inst, Capacity: m.bufSize}
		for _, cs := range e.fan.ChannelStats() {
			st.Subscribers++
			if cs.Len > st.Backlog {
				st.Backlog = cs.Len
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Close cancels every running session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.sessions {
		e.cancel()
		delete(m.sessions, key)
	}
}
