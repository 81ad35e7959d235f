package strategy

import (
	"testing"

	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

func TestSMACrossover_StreamingBuy(t *testing.T) {
	s := NewSMACrossover(5)
	var got []model.Signal
	for _, c := range buyFixture() {
		if sig := s.OnCandle(c); sig != nil {
			got = append(got, *sig)
		}
	}
	if len(got) != 1 || got[0].Side != model.Buy || got[0].Timestamp != 480 {
		t.Fatalf("expected a single BUY at 480, got %+v", got)
	}
	sma, ok := s.SMA()
	if !ok || sma != 13 {
		t.Errorf("expected SMA 13 after the last candle, got %v (%v)", sma, ok)
	}
}

func TestSMACrossover_StreamingSell(t *testing.T) {
	s := NewSMACrossover(5)
	var got []model.Signal
	for _, c := range sellFixture() {
		if sig := s.OnCandle(c); sig != nil {
			got = append(got, *sig)
		}
	}
	if len(got) != 1 || got[0].Side != model.Sell || got[0].Timestamp != 480 {
		t.Fatalf("expected a single SELL at 480, got %+v", got)
	}
}

func TestSMACrossover_IgnoresForming(t *testing.T) {
	s := NewSMACrossover(5)
	fx := buyFixture()
	s.Seed(fx[:8])

	forming := fx[8]
	forming.IsFinal = false
	if sig := s.OnCandle(forming); sig != nil {
		t.Fatalf("forming candle produced %+v", sig)
	}
	if sma, _ := s.SMA(); sma != 14 {
		t.Fatalf("forming candle must not move the SMA, got %v", sma)
	}
	if sig := s.OnCandle(fx[8]); sig == nil || sig.Side != model.Buy {
		t.Fatalf("expected BUY after seeding, got %+v", sig)
	}
}

func TestSMACrossover_NotReady(t *testing.T) {
	s := NewSMACrossover(50)
	for _, c := range buyFixture() {
		if sig := s.OnCandle(c); sig != nil {
			t.Fatalf("signal before the SMA window filled: %+v", sig)
		}
	}
}

func TestNew_Strategies(t *testing.T) {
	for _, name := range []string{NameSMACrossover, NameMACDDivergence, NameRSIDivergence} {
		s, err := New(name, DefaultParams())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("expected name %s, got %s", name, s.Name())
		}
	}
	if _, err := New("martingale", DefaultParams()); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEngine_Process(t *testing.T) {
	inst := model.Instrument{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"}
	e := NewEngine(inst)
	e.Register(NewSMACrossover(5))
	e.Register(NewRSIDivergence(DefaultParams().RSI, DefaultThresholds))

	var events []model.SignalEvent
	for _, c := range buyFixture() {
		forming := c
		forming.IsFinal = false
		if ev := e.Process(forming); ev != nil {
			t.Fatalf("forming candle produced %+v", ev)
		}
		events = append(events, e.Process(c)...)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %+v", events)
	}
	ev := events[0]
	if ev.Strategy != NameSMACrossover || ev.Instrument != inst || ev.Side != model.Buy {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestEngine_Seed(t *testing.T) {
	e := NewEngine(model.Instrument{Symbol: "X"})
	e.Register(NewSMACrossover(5))
	e.Register(NewMACDDivergence(indicator.MACDConfig{Fast: 3, Slow: 6, Signal: 3}))

	fx := buyFixture()
	e.Seed(fx[:8])
	events := e.Process(fx[8])
	if len(events) == 0 || events[0].Strategy != NameSMACrossover || events[0].Side != model.Buy {
		t.Fatalf("expected the seeded crossover to BUY on the next candle, got %+v", events)
	}
}

func TestMACDDivergence_Streaming(t *testing.T) {
	closes := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 9}
	m := NewMACDDivergence(indicator.MACDConfig{Fast: 3, Slow: 6, Signal: 3})
	var last *model.Signal
	for i, c := range series(closes...) {
		sig := m.OnCandle(c)
		if i < len(closes)-1 && sig != nil && sig.Side == model.Buy {
			t.Fatalf("unexpected early BUY at %d", i)
		}
		last = sig
	}
	if last == nil || last.Side != model.Buy {
		t.Fatalf("expected BUY on the last candle, got %+v", last)
	}
}
