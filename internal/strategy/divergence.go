package strategy

import (
	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

// Thresholds are the RSI levels used by the divergence rule.
type Thresholds struct {
	Oversold   float64 `json:"oversold" yaml:"oversold"`
	Overbought float64 `json:"overbought" yaml:"overbought"`
}

// DefaultThresholds are the classic 30/70 RSI levels.
var DefaultThresholds = Thresholds{Oversold: 30, Overbought: 70}

// MACDCross applies the histogram zero-cross rule to the last two points of
// a MACD histogram: BUY when it turns positive, SELL when it turns negative.
// A not-ready or missing point yields no signal.
func MACDCross(hist []indicator.Point) (model.Side, bool) {
	if len(hist) < 2 {
		return "", false
	}
	prev, last := hist[len(hist)-2], hist[len(hist)-1]
	return macdCross(prev, last)
}

func macdCross(prev, last indicator.Point) (model.Side, bool) {
	if !prev.Ready || !last.Ready {
		return "", false
	}
	switch {
	case last.Value > 0 && prev.Value <= 0:
		return model.Buy, true
	case last.Value < 0 && prev.Value >= 0:
		return model.Sell, true
	}
	return "", false
}

// RSIBreach applies the threshold rule to the last RSI point: BUY strictly
// below Oversold, SELL strictly above Overbought.
func RSIBreach(rsi []indicator.Point, th Thresholds) (model.Side, bool) {
	last, ok := indicator.Last(rsi)
	if !ok {
		return "", false
	}
	return rsiBreach(last, th)
}

func rsiBreach(last indicator.Point, th Thresholds) (model.Side, bool) {
	if !last.Ready {
		return "", false
	}
	switch {
	case last.Value < th.Oversold:
		return model.Buy, true
	case last.Value > th.Overbought:
		return model.Sell, true
	}
	return "", false
}

// Divergence runs the rule matching the indicator kind over its primary
// series. SMA has no divergence rule.
func Divergence(out indicator.Output, th Thresholds) (model.Side, bool) {
	switch out.Kind {
	case indicator.KindMACD:
		return MACDCross(out.Primary)
	case indicator.KindRSI:
		return RSIBreach(out.Primary, th)
	}
	return "", false
}

// CrossesOver reports whether first and second cross each other anywhere in
// the aligned series, in either direction. Not-ready points are skipped.
func CrossesOver(first, second []indicator.Point) bool {
	n := len(first)
	if len(second) < n {
		n = len(second)
	}
	for i := 1; i < n; i++ {
		a0, a1, b0, b1 := first[i-1], first[i], second[i-1], second[i]
		if !a0.Ready || !a1.Ready || !b0.Ready || !b1.Ready {
			continue
		}
		if a0.Value <= b0.Value && a1.Value > b1.Value {
			return true
		}
		if a0.Value >= b0.Value && a1.Value < b1.Value {
			return true
		}
	}
	return false
}
