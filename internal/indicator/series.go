package indicator

// ComputeSMA returns SMA(period) aligned with closes. Indices < period-1
// are not ready.
func ComputeSMA(closes []float64, period int) []Point {
	return drive(NewSMA(period), closes)
}

// ComputeRSI returns the rolling-mean RSI(length) aligned with closes.
// Indices < length-1 are not ready.
func ComputeRSI(closes []float64, length int) []Point {
	return drive(NewRSI(length), closes)
}

// MACDSeries holds the aligned MACD output columns.
type MACDSeries struct {
	FastEMA []Point
	SlowEMA []Point
	Line    []Point
	Signal  []Point
	Hist    []Point
}

// ComputeMACD returns MACD(fast, slow, signal) aligned with closes. Every
// index is ready because the EMAs are seeded by the first close.
func ComputeMACD(closes []float64, fast, slow, signal int) MACDSeries {
	m := NewMACD(fast, slow, signal)
	out := MACDSeries{
		FastEMA: make([]Point, len(closes)),
		SlowEMA: make([]Point, len(closes)),
		Line:    make([]Point, len(closes)),
		Signal:  make([]Point, len(closes)),
		Hist:    make([]Point, len(closes)),
	}
	for i, c := range closes {
		m.Add(c)
		out.FastEMA[i] = Point{Value: m.fast.Value(), Ready: true}
		out.SlowEMA[i] = Point{Value: m.slow.Value(), Ready: true}
		out.Line[i] = Point{Value: m.Line(), Ready: true}
		out.Signal[i] = Point{Value: m.Signal(), Ready: true}
		out.Hist[i] = Point{Value: m.Hist(), Ready: true}
	}
	return out
}

// Column is one named indicator output aligned with the input series.
type Column struct {
	Name   string
	Points []Point
}

// Output is the batch result of one configured indicator. Primary is the
// column the divergence rule and last_value refer to.
type Output struct {
	Kind    Kind
	Columns []Column
	Primary []Point
}

// LastValue returns the last primary point.
func (o Output) LastValue() (Point, bool) {
	return Last(o.Primary)
}
