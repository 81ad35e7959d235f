package finalizer

import (
	"errors"
	"math"
	"testing"

	"trading-signals/internal/model"
)

// makeUpdate creates a raw update at the given Unix second.
func makeUpdate(unixSec int64, open, high, low, close_, vol float64) model.RawUpdate {
	return model.RawUpdate{Time: unixSec, Open: open, High: high, Low: low, Close: close_, Volume: vol}
}

func TestFinalizer_60s_Boundary(t *testing.T) {
	f, err := New(60)
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(0); i < 60; i++ {
		out, err := f.Step(makeUpdate(i, 100, 100+float64(i), 99, 100+float64(i)/2, float64(i)))
		if err != nil {
			t.Fatalf("t=%d: unexpected error %v", i, err)
		}
		if len(out) != 1 {
			t.Fatalf("t=%d: expected 1 candle, got %d", i, len(out))
		}
		if out[0].IsFinal {
			t.Fatalf("t=%d: unexpected final candle %+v", i, out[0])
		}
		if out[0].Timestamp != 0 {
			t.Fatalf("t=%d: expected bucket 0, got %d", i, out[0].Timestamp)
		}
	}

	out, err := f.Step(makeUpdate(60, 130, 131, 129, 130.5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected final + forming, got %d candles", len(out))
	}

	final := out[0]
	if !final.IsFinal {
		t.Fatal("first candle must be final")
	}
	if final.Timestamp != 0 {
		t.Errorf("final candle must describe bucket 0, got %d", final.Timestamp)
	}
	// last observed values of bucket 0 (t=59), not the incoming update
	if final.High != 159 || final.Close != 129.5 || final.Volume != 59 {
		t.Errorf("final candle carries wrong values: %+v", final)
	}

	forming := out[1]
	if forming.IsFinal || forming.Timestamp != 60 || forming.Close != 130.5 {
		t.Errorf("unexpected forming candle: %+v", forming)
	}

	if lc, ok := f.LastClosed(); !ok || lc != 0 {
		t.Errorf("expected last closed bucket 0, got %d (%v)", lc, ok)
	}
}

func TestFinalizer_ExactlyOneFinalPerBucket(t *testing.T) {
	f, _ := New(60)
	finals := 0
	f.OnFinal = func(model.Candle) { finals++ }

	for ts := int64(0); ts < 600; ts += 7 {
		if _, err := f.Step(makeUpdate(ts, 1, 2, 0.5, 1.5, 1)); err != nil {
			t.Fatal(err)
		}
	}
	// ts 0..595: buckets 0..540 closed, 540 still forming
	if finals != 9 {
		t.Errorf("expected 9 finalized buckets, got %d", finals)
	}
}

func TestFinalizer_GapFinalizesOnce(t *testing.T) {
	f, _ := New(60)
	f.Step(makeUpdate(10, 1, 1, 1, 1, 1))
	out, err := f.Step(makeUpdate(310, 2, 2, 2, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Timestamp != 0 || out[1].Timestamp != 300 {
		t.Fatalf("unexpected output across gap: %+v", out)
	}
}

func TestFinalizer_WeeklyBucketsStartMonday(t *testing.T) {
	const week = 7 * 86400
	monday := int64(1704067200) // 2024-01-01 00:00 UTC
	f, _ := New(week)

	out, _ := f.Step(makeUpdate(monday+3*86400, 1, 1, 1, 1, 1)) // Thursday
	if len(out) != 1 || out[0].Timestamp != monday {
		t.Fatalf("expected the forming week to start on monday, got %+v", out)
	}
	out, _ = f.Step(makeUpdate(monday+6*86400+86399, 2, 2, 2, 2, 1)) // Sunday night
	if len(out) != 1 || out[0].IsFinal {
		t.Fatalf("sunday must stay in the same week, got %+v", out)
	}
	out, _ = f.Step(makeUpdate(monday+week, 3, 3, 3, 3, 1))
	if len(out) != 2 || !out[0].IsFinal || out[0].Timestamp != monday || out[1].Timestamp != monday+week {
		t.Fatalf("expected the week to close on the next monday, got %+v", out)
	}
}

func TestFinalizer_MergeMode(t *testing.T) {
	f, _ := New(60)
	f.Merge = true
	f.Step(makeUpdate(0, 100, 100, 100, 100, 2))
	f.Step(makeUpdate(1, 105, 105, 105, 105, 3))
	out, _ := f.Step(makeUpdate(2, 98, 98, 98, 98, 1))

	c := out[0]
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 98 || c.Volume != 6 {
		t.Errorf("merge produced %+v", c)
	}
}

func TestFinalizer_ReplaceMode(t *testing.T) {
	f, _ := New(60)
	f.Step(makeUpdate(0, 100, 110, 90, 105, 5))
	out, _ := f.Step(makeUpdate(30, 100, 101, 99, 100, 7))

	c := out[0]
	if c.High != 101 || c.Low != 99 || c.Volume != 7 {
		t.Errorf("replace mode must take reported values, got %+v", c)
	}
}

func TestFinalizer_RejectsOlderBucket(t *testing.T) {
	f, _ := New(60)
	rejected := 0
	f.OnMalformed = func(error) { rejected++ }

	f.Step(makeUpdate(60, 1, 1, 1, 1, 1))
	f.Step(makeUpdate(125, 2, 2, 2, 2, 1))

	out, err := f.Step(makeUpdate(100, 3, 3, 3, 3, 1))
	var dfe *model.DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %v", err)
	}
	if out != nil {
		t.Errorf("rejected update must not produce candles, got %+v", out)
	}
	if rejected != 1 {
		t.Errorf("expected 1 rejection, got %d", rejected)
	}

	// stream continues with the next well-formed update
	out, err = f.Step(makeUpdate(126, 4, 4, 4, 4, 1))
	if err != nil || len(out) != 1 || out[0].Close != 4 {
		t.Errorf("stream did not recover: out=%+v err=%v", out, err)
	}
}

func TestFinalizer_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		u    model.RawUpdate
	}{
		{"nan close", makeUpdate(0, 1, 1, 1, math.NaN(), 1)},
		{"inf high", makeUpdate(0, 1, math.Inf(1), 1, 1, 1)},
		{"high below low", makeUpdate(0, 1, 1, 2, 1, 1)},
		{"negative volume", makeUpdate(0, 1, 1, 1, 1, -1)},
		{"negative time", makeUpdate(-5, 1, 1, 1, 1, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, _ := New(60)
			_, err := f.Step(tc.u)
			if !model.IsDataFormat(err) {
				t.Fatalf("expected DataFormatError, got %v", err)
			}
			if f.started {
				t.Error("malformed update must not start a bucket")
			}
		})
	}
}

func TestFinalizer_ResetDiscardsState(t *testing.T) {
	f, _ := New(60)
	f.Step(makeUpdate(0, 1, 1, 1, 1, 1))
	f.Reset()

	out, _ := f.Step(makeUpdate(60, 2, 2, 2, 2, 1))
	if len(out) != 1 || out[0].IsFinal {
		t.Fatalf("reset finalizer must not finalize discarded bucket: %+v", out)
	}
}

func TestNew_InvalidWidth(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero width")
	}
}
