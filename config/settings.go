package config

import (
	"fmt"
	"strings"

	"trading-signals/internal/indicator"
	"trading-signals/internal/model"
	"trading-signals/internal/strategy"
	"trading-signals/internal/stream"
)

// Settings are the signal parameters exposed through /api/config. A value
// is immutable once published through a Store.
type Settings struct {
	Exchange     string   `yaml:"exchange" json:"exchange"`
	Symbol       string   `yaml:"symbol" json:"symbol"`
	Interval     string   `yaml:"interval" json:"interval"`
	SMAWindow    int      `yaml:"sma_window" json:"sma_window"`
	Strategies   []string `yaml:"strategies" json:"strategies"`
	HistoryLimit int      `yaml:"history_limit" json:"history_limit"`

	MACDFast   int     `yaml:"macd_fast" json:"macd_fast"`
	MACDSlow   int     `yaml:"macd_slow" json:"macd_slow"`
	MACDSignal int     `yaml:"macd_signal" json:"macd_signal"`
	RSILength  int     `yaml:"rsi_length" json:"rsi_length"`
	Oversold   float64 `yaml:"oversold" json:"oversold"`
	Overbought float64 `yaml:"overbought" json:"overbought"`

	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
}

// DefaultSettings returns the stock signal parameters.
func DefaultSettings() Settings {
	p := strategy.DefaultParams()
	return Settings{
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		Interval:       "1m",
		SMAWindow:      p.SMAWindow,
		Strategies:     []string{strategy.NameSMACrossover},
		HistoryLimit:   p.SMAWindow,
		MACDFast:       p.MACD.Fast,
		MACDSlow:       p.MACD.Slow,
		MACDSignal:     p.MACD.Signal,
		RSILength:      p.RSI.Length,
		Oversold:       p.Thresholds.Oversold,
		Overbought:     p.Thresholds.Overbought,
		InitialBalance: 10000,
	}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if s.Exchange == "" || s.Symbol == "" {
		return fmt.Errorf("exchange and symbol are required")
	}
	if _, err := model.IntervalSeconds(s.Interval); err != nil {
		return err
	}
	if s.SMAWindow <= 0 {
		return fmt.Errorf("sma_window must be positive, got %d", s.SMAWindow)
	}
	if s.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative, got %d", s.HistoryLimit)
	}
	p := s.Params()
	if err := p.MACD.Validate(); err != nil {
		return err
	}
	if err := p.RSI.Validate(); err != nil {
		return err
	}
	if s.Oversold >= s.Overbought {
		return fmt.Errorf("oversold (%g) must be below overbought (%g)", s.Oversold, s.Overbought)
	}
	if s.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive, got %g", s.InitialBalance)
	}
	for _, name := range s.Strategies {
		if _, err := strategy.New(name, p); err != nil {
			return err
		}
	}
	return nil
}

// Instrument returns the default stream.
func (s Settings) Instrument() model.Instrument {
	return model.Instrument{
		Exchange: strings.ToLower(s.Exchange),
		Symbol:   strings.ToUpper(s.Symbol),
		Interval: s.Interval,
	}
}

// Params converts the settings into strategy parameters.
func (s Settings) Params() strategy.Params {
	return strategy.Params{
		SMAWindow:  s.SMAWindow,
		MACD:       indicator.MACDConfig{Fast: s.MACDFast, Slow: s.MACDSlow, Signal: s.MACDSignal},
		RSI:        indicator.RSIConfig{Length: s.RSILength},
		Thresholds: strategy.Thresholds{Oversold: s.Oversold, Overbought: s.Overbought},
	}
}

// Indicators returns the streaming indicators shown with live candles.
func (s Settings) Indicators() []indicator.Config {
	p := s.Params()
	return []indicator.Config{p.MACD, p.RSI}
}

// StreamOptions returns the options for new streaming sessions.
func (s Settings) StreamOptions() stream.Options {
	opts := stream.DefaultOptions()
	opts.Strategies = append([]string(nil), s.Strategies...)
	opts.Params = s.Params()
	opts.Indicators = s.Indicators()
	opts.HistoryLimit = s.HistoryLimit
	return opts
}

// clone returns a copy that shares no slices with s.
func (s Settings) clone() Settings {
	s.Strategies = append([]string(nil), s.Strategies...)
	return s
}
