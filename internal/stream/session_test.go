package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"trading-signals/internal/model"
	"trading-signals/internal/strategy"
)

var btc1m = model.Instrument{Exchange: "binance", Symbol: "BTCUSDT", Interval: "1m"}

// scriptFeed sends its updates and then returns err.
type scriptFeed struct {
	updates []model.RawUpdate
	err     error
}

func (f *scriptFeed) Stream(ctx context.Context, inst model.Instrument, out chan<- model.RawUpdate) error {
	for _, u := range f.updates {
		select {
		case out <- u:
		case <-ctx.Done():
			return nil
		}
	}
	return f.err
}

type staticHistory []model.Candle

func (h staticHistory) Klines(ctx context.Context, inst model.Instrument, limit int) ([]model.Candle, error) {
	return h, nil
}

func upd(ts int64, close float64) model.RawUpdate {
	return model.RawUpdate{Time: ts, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1}
}

func collect(t *testing.T, out <-chan model.LiveCandle) []model.LiveCandle {
	t.Helper()
	var got []model.LiveCandle
	timeout := time.After(2 * time.Second)
	for {
		select {
		case lc, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, lc)
		case <-timeout:
			t.Fatal("timed out waiting for stream to end")
		}
	}
}

func smaOptions(window int) Options {
	opts := DefaultOptions()
	opts.Params.SMAWindow = window
	return opts
}

func TestSession_FinalizesAndEndsOnFeedError(t *testing.T) {
	feed := &scriptFeed{
		updates: []model.RawUpdate{upd(0, 10), upd(30, 11), upd(59, 12), upd(60, 13)},
		err:     io.EOF,
	}
	sess, err := NewSession(btc1m, feed, nil, smaOptions(2))
	if err != nil {
		t.Fatal(err)
	}
	var finals []model.KeyedCandle
	sess.OnFinal = func(kc model.KeyedCandle) { finals = append(finals, kc) }

	out := make(chan model.LiveCandle, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(context.Background(), out) }()

	got := collect(t, out)
	if err := <-errCh; !errors.Is(err, io.EOF) {
		t.Fatalf("expected feed error to surface, got %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 live candles, got %d: %+v", len(got), got)
	}
	if !got[3].IsFinal || got[3].Time != 0 || got[3].Close != 12 {
		t.Errorf("expected final bucket 0 with close 12, got %+v", got[3])
	}
	if got[4].IsFinal || got[4].Time != 60 {
		t.Errorf("expected forming bucket 60, got %+v", got[4])
	}
	if len(finals) != 1 || finals[0].Instrument != btc1m {
		t.Errorf("expected one keyed final, got %+v", finals)
	}
}

func TestSession_CleanFeedEndIsReported(t *testing.T) {
	sess, err := NewSession(btc1m, &scriptFeed{}, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	out := make(chan model.LiveCandle, 1)
	if err := sess.Run(context.Background(), out); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Fatal("out must be closed")
	}
}

func TestSession_SMAAndSignalInPayload(t *testing.T) {
	sess, err := NewSession(btc1m, nil, nil, smaOptions(2))
	if err != nil {
		t.Fatal(err)
	}

	lc, _, _ := sess.Handle(model.Candle{Timestamp: 0, Open: 1, High: 2, Low: 0, Close: 1, IsFinal: true})
	if lc.SMA != nil {
		t.Fatalf("SMA must be absent before the window fills, got %v", *lc.SMA)
	}
	lc, _, _ = sess.Handle(model.Candle{Timestamp: 60, Open: 2, High: 3, Low: 1, Close: 2, IsFinal: true})
	if lc.SMA == nil || *lc.SMA != 1.5 {
		t.Fatalf("expected SMA 1.5, got %v", lc.SMA)
	}
	lc, events, _ := sess.Handle(model.Candle{Timestamp: 120, Open: 2, High: 3, Low: 1, Close: 2.5})
	if lc.IsFinal || len(events) != 0 {
		t.Fatalf("forming candles must not raise signals: %+v", events)
	}
	if lc.SMA == nil || *lc.SMA != 1.5 {
		t.Fatalf("forming candle must carry the last SMA, got %v", lc.SMA)
	}
}

func TestSession_SignalRaised(t *testing.T) {
	sess, err := NewSession(btc1m, nil, nil, smaOptions(5))
	if err != nil {
		t.Fatal(err)
	}
	var raised []model.SignalEvent
	sess.OnSignal = func(ev model.SignalEvent) { raised = append(raised, ev) }

	sess.Seed([]model.Candle{
		{Timestamp: 0, Open: 1, High: 2, Low: 0, Close: 1},
		{Timestamp: 60, Open: 1, High: 2, Low: 0, Close: 1},
		{Timestamp: 120, Open: 10, High: 11, Low: 9, Close: 10},
		{Timestamp: 180, Open: 10, High: 11, Low: 9, Close: 10},
	})
	if _, events, _ := sess.Handle(model.Candle{Timestamp: 240, Open: 10, High: 11, Low: 9, Close: 10, IsFinal: true}); len(events) != 0 {
		t.Fatalf("unexpected signal while warming up: %+v", events)
	}

	// SMA 6.4 sits below every prior low (9) and above the close
	lc, events, _ := sess.Handle(model.Candle{Timestamp: 300, Open: 7, High: 8, Low: 5, Close: 5.5, IsFinal: true})
	if len(events) != 1 || events[0].Side != model.Sell || events[0].Strategy != strategy.NameSMACrossover {
		t.Fatalf("expected one SELL, got %+v", events)
	}
	if events[0].Timestamp != 300 || events[0].Price != 5.5 {
		t.Errorf("unexpected signal %+v", events[0].Signal)
	}
	if lc.Signal == nil || *lc.Signal != model.Sell {
		t.Fatalf("payload must carry the signal, got %+v", lc.Signal)
	}
	if len(raised) != 0 {
		t.Errorf("Handle must not call hooks, got %d", len(raised))
	}
}

func TestSession_SeedSkipsCoveredFinals(t *testing.T) {
	history := staticHistory{
		{Timestamp: 0, Open: 1, High: 2, Low: 0, Close: 1, IsFinal: true},
		{Timestamp: 60, Open: 2, High: 3, Low: 1, Close: 2, IsFinal: true},
	}
	feed := &scriptFeed{updates: []model.RawUpdate{upd(60, 2), upd(120, 3)}, err: io.EOF}
	opts := smaOptions(2)
	opts.HistoryLimit = 2
	sess, err := NewSession(btc1m, feed, history, opts)
	if err != nil {
		t.Fatal(err)
	}
	out := make(chan model.LiveCandle, 16)
	go sess.Run(context.Background(), out)

	for _, lc := range collect(t, out) {
		if lc.IsFinal && lc.Time == 60 {
			t.Fatalf("final candle already covered by history was emitted again: %+v", lc)
		}
		if lc.SMA == nil || *lc.SMA != 1.5 {
			t.Fatalf("seeded SMA expected on every payload, got %+v", lc)
		}
	}
}

func TestSession_MalformedUpdateDropped(t *testing.T) {
	bad := model.RawUpdate{Time: 10, Open: 1, High: 0, Low: 2, Close: 1}
	feed := &scriptFeed{updates: []model.RawUpdate{upd(0, 1), bad, upd(20, 2)}, err: io.EOF}
	sess, err := NewSession(btc1m, feed, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	malformed := 0
	sess.OnMalformed = func(error) { malformed++ }

	out := make(chan model.LiveCandle, 16)
	go sess.Run(context.Background(), out)
	if got := collect(t, out); len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if malformed != 1 {
		t.Errorf("expected 1 malformed update, got %d", malformed)
	}
}

func TestNewSession_UnknownStrategy(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategies = []string{"moon_phase"}
	if _, err := NewSession(btc1m, nil, nil, opts); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
