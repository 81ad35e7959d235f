package strategy

import (
	"strconv"

	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
)

// Summary is the signal block of a batch indicator calculation.
type Summary struct {
	Indicator          indicator.Kind `json:"indicator"`
	DivergenceDetected bool           `json:"divergence_detected"`
	Side               *model.Side    `json:"side"`
	LastValue          *float64       `json:"last_value"`
}

// Calculation is the result of running one indicator over a series.
type Calculation struct {
	Output  indicator.Output
	Summary Summary
}

// Calculate runs cfg over series and, when detect is set, applies the
// divergence rule to the last two points. Series must be ordered by strictly
// increasing timestamp.
func Calculate(series []model.Candle, cfg indicator.Config, detect bool, th Thresholds) (Calculation, error) {
	if len(series) == 0 {
		return Calculation{}, model.ErrInsufficientHistory
	}
	if err := CheckOrdered(series); err != nil {
		return Calculation{}, err
	}

	out := cfg.Compute(model.Closes(series))
	sum := Summary{Indicator: cfg.Kind()}
	if last, ok := out.LastValue(); ok && last.Ready {
		v := last.Value
		sum.LastValue = &v
	}
	if detect {
		if side, ok := Divergence(out, th); ok {
			sum.DivergenceDetected = true
			sum.Side = &side
		}
	}
	return Calculation{Output: out, Summary: sum}, nil
}

// CheckOrdered verifies that timestamps are strictly increasing.
func CheckOrdered(series []model.Candle) error {
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp <= series[i-1].Timestamp {
			return &model.DataFormatError{
				Field:  "timestamp",
				Reason: "series must be strictly increasing at index " + strconv.Itoa(i),
			}
		}
	}
	return nil
}
