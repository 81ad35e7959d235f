package indicator

import (
	"trading-signals/internal/model"
)

// Set maintains one instance of each configured indicator for a single
// stream. Finalized candles advance the indicators; forming candles are only
// previewed through Peek.
// Designed for single-goroutine usage, no locks needed.
type Set struct {
	indicators []Indicator
}

// NewSet creates fresh indicator instances for configs.
func NewSet(configs []Config) *Set {
	inds := make([]Indicator, len(configs))
	for i, c := range configs {
		inds[i] = c.New()
	}
	return &Set{indicators: inds}
}

// Process advances every indicator with a finalized candle and returns their
// values (not-ready indicators are included with Ready=false).
// Forming candles are routed to Peek.
func (s *Set) Process(c model.Candle) []model.IndicatorValue {
	if !c.IsFinal {
		return s.Peek(c)
	}
	results := make([]model.IndicatorValue, 0, len(s.indicators))
	for _, ind := range s.indicators {
		ind.Update(c)
		results = append(results, model.IndicatorValue{
			Name:  ind.Name(),
			Value: ind.Value(),
			Ready: ind.Ready(),
		})
	}
	return results
}

// Peek computes live values for a forming candle without mutating state.
func (s *Set) Peek(c model.Candle) []model.IndicatorValue {
	results := make([]model.IndicatorValue, 0, len(s.indicators))
	for _, ind := range s.indicators {
		results = append(results, model.IndicatorValue{
			Name:  ind.Name(),
			Value: ind.Peek(c.Close),
			Ready: ind.Ready(),
			Live:  true,
		})
	}
	return results
}
