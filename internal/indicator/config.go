package indicator

import (
	"fmt"
	"math"
	"strings"

	"trading-signals/internal/model"
)

// Kind names an indicator family.
type Kind string

const (
	KindMACD Kind = "MACD"
	KindRSI  Kind = "RSI"
	KindSMA  Kind = "SMA"
)

// Default parameters.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
	DefaultRSILength  = 14
	DefaultSMAPeriod  = 50
)

// Config is a closed set of indicator selections: MACDConfig, RSIConfig or
// SMAConfig. Names are resolved once by ParseConfig; everything after that
// dispatches on the concrete type.
type Config interface {
	Kind() Kind
	// Label is the indicator name including its parameters, e.g. "RSI_14".
	Label() string
	Validate() error
	// New returns a fresh incremental indicator.
	New() Indicator
	// Compute runs the indicator over a full close series.
	Compute(closes []float64) Output

	sealed()
}

// MACDConfig selects MACD.
type MACDConfig struct {
	Fast   int `json:"fast_length" yaml:"fast_length"`
	Slow   int `json:"slow_length" yaml:"slow_length"`
	Signal int `json:"signal_length" yaml:"signal_length"`
}

// RSIConfig selects RSI.
type RSIConfig struct {
	Length int `json:"length" yaml:"length"`
}

// SMAConfig selects SMA.
type SMAConfig struct {
	Period int `json:"period" yaml:"period"`
}

func (MACDConfig) Kind() Kind { return KindMACD }
func (RSIConfig) Kind() Kind  { return KindRSI }
func (SMAConfig) Kind() Kind  { return KindSMA }

func (MACDConfig) sealed() {}
func (RSIConfig) sealed()  {}
func (SMAConfig) sealed()  {}

func (c MACDConfig) Label() string { return c.New().Name() }
func (c RSIConfig) Label() string  { return c.New().Name() }
func (c SMAConfig) Label() string  { return c.New().Name() }

func (c MACDConfig) Validate() error {
	if c.Fast <= 0 || c.Slow <= 0 || c.Signal <= 0 {
		return fmt.Errorf("MACD lengths must be positive, got %d/%d/%d", c.Fast, c.Slow, c.Signal)
	}
	return nil
}

func (c RSIConfig) Validate() error {
	if c.Length <= 0 {
		return fmt.Errorf("RSI length must be positive, got %d", c.Length)
	}
	return nil
}

func (c SMAConfig) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("SMA period must be positive, got %d", c.Period)
	}
	return nil
}

func (c MACDConfig) New() Indicator { return NewMACD(c.Fast, c.Slow, c.Signal) }
func (c RSIConfig) New() Indicator  { return NewRSI(c.Length) }
func (c SMAConfig) New() Indicator  { return NewSMA(c.Period) }

func (c MACDConfig) Compute(closes []float64) Output {
	m := ComputeMACD(closes, c.Fast, c.Slow, c.Signal)
	return Output{
		Kind: KindMACD,
		Columns: []Column{
			{Name: "EMA_fast", Points: m.FastEMA},
			{Name: "EMA_slow", Points: m.SlowEMA},
			{Name: "MACD_line", Points: m.Line},
			{Name: "MACD_signal", Points: m.Signal},
			{Name: "MACD_hist", Points: m.Hist},
		},
		Primary: m.Hist,
	}
}

func (c RSIConfig) Compute(closes []float64) Output {
	r := ComputeRSI(closes, c.Length)
	return Output{Kind: KindRSI, Columns: []Column{{Name: "RSI", Points: r}}, Primary: r}
}

func (c SMAConfig) Compute(closes []float64) Output {
	s := ComputeSMA(closes, c.Period)
	return Output{Kind: KindSMA, Columns: []Column{{Name: "SMA", Points: s}}, Primary: s}
}

// ParseConfig resolves an indicator name and its parameter map. Missing
// parameters take the defaults. Unknown names fail with
// *model.UnknownIndicatorError; invalid parameters with *model.DataFormatError.
func ParseConfig(name string, params map[string]float64) (Config, error) {
	var cfg Config
	var err error
	switch Kind(strings.ToUpper(strings.TrimSpace(name))) {
	case KindMACD:
		var c MACDConfig
		if c.Fast, err = intParam(params, "fast_length", DefaultMACDFast); err != nil {
			return nil, err
		}
		if c.Slow, err = intParam(params, "slow_length", DefaultMACDSlow); err != nil {
			return nil, err
		}
		if c.Signal, err = intParam(params, "signal_length", DefaultMACDSignal); err != nil {
			return nil, err
		}
		cfg = c
	case KindRSI:
		var c RSIConfig
		if c.Length, err = intParam(params, "length", DefaultRSILength); err != nil {
			return nil, err
		}
		cfg = c
	case KindSMA:
		var c SMAConfig
		if c.Period, err = intParam(params, "period", DefaultSMAPeriod); err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, &model.UnknownIndicatorError{Name: name}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &model.DataFormatError{Field: "variables", Reason: err.Error()}
	}
	return cfg, nil
}

func intParam(params map[string]float64, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, &model.DataFormatError{Field: key, Reason: fmt.Sprintf("expected an integer, got %v", v)}
	}
	return int(v), nil
}
