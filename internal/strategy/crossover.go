package strategy

import (
	"math"
	"sort"

	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

// DefaultSMAWindow is the SMA period of the crossover rule.
const DefaultSMAWindow = 50

// lookback is the number of prior candles the crossover rule inspects.
const lookback = 3

// Crossover applies the batch SMA-crossover rule over a full series.
//
// Candle i qualifies when its range straddles the SMA (high > sma > low) and
//   - BUY:  sma < close and min(sma[i-3..i-1]) > max(high[i-3..i-1])
//   - SELL: sma > close and max(sma[i-3..i-1]) < min(low[i-3..i-1])
//
// Candles without a ready SMA at i and at the three prior indices never
// qualify. BUYs are collected before SELLs, then the list is stable-sorted
// by timestamp. A window below 1 yields no signals.
func Crossover(series []model.Candle, window int) []model.Signal {
	if window < 1 {
		return nil
	}
	sma := indicator.ComputeSMA(model.Closes(series), window)

	var buys, sells []model.Signal
	for i := lookback; i < len(series); i++ {
		if !sma[i].Ready || !sma[i-lookback].Ready {
			continue
		}
		c := series[i]
		s := sma[i].Value
		if !(c.High > s && c.Low < s) {
			continue
		}

		smaMin, smaMax := math.Inf(1), math.Inf(-1)
		highMax, lowMin := math.Inf(-1), math.Inf(1)
		for j := i - lookback; j < i; j++ {
			smaMin = math.Min(smaMin, sma[j].Value)
			smaMax = math.Max(smaMax, sma[j].Value)
			highMax = math.Max(highMax, series[j].High)
			lowMin = math.Min(lowMin, series[j].Low)
		}

		sig := model.Signal{Timestamp: float64(c.Timestamp), Price: c.Close}
		switch {
		case s < c.Close && smaMin > highMax:
			sig.Side = model.Buy
			buys = append(buys, sig)
		case s > c.Close && smaMax < lowMin:
			sig.Side = model.Sell
			sells = append(sells, sig)
		}
	}

	signals := append(buys, sells...)
	sort.SliceStable(signals, func(a, b int) bool {
		return signals[a].Timestamp < signals[b].Timestamp
	})
	return signals
}

// Split separates a signal list into its BUY and SELL parts, preserving order.
func Split(signals []model.Signal) (buys, sells []model.Signal) {
	buys, sells = []model.Signal{}, []model.Signal{}
	for _, s := range signals {
		if s.Side == model.Buy {
			buys = append(buys, s)
		} else {
			sells = append(sells, s)
		}
	}
	return buys, sells
}
