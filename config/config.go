// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML file, and holds the signal
// settings that can be swapped at runtime.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-signals/internal/model"
)

// Config holds all process configuration. Precedence, lowest first:
// defaults, YAML file (CONFIG_FILE), environment (including .env).
type Config struct {
	// HTTP
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Infrastructure; an empty RedisAddr or SQLitePath disables the store
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`

	// Exchange endpoints
	BinanceStreamURL string `yaml:"binance_stream_url"`
	BinanceRESTURL   string `yaml:"binance_rest_url"`
	KucoinRESTURL    string `yaml:"kucoin_rest_url"`

	// Notifications
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`

	// Streams the collector follows, "exchange:SYMBOL:interval" comma
	// separated.
	Streams string `yaml:"streams"`

	// Relay makes the signal server read live candles from Redis instead of
	// connecting to exchanges itself.
	Relay bool `yaml:"relay"`

	Settings Settings `yaml:"settings"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:    ":8000",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		SQLitePath:  "data/candles.db",
		Streams:     "binance:BTCUSDT:1m",
		Settings:    DefaultSettings(),
	}
}

// Load reads the env file named by ENV_FILE (default ".env", skipped when
// missing), the YAML file named by CONFIG_FILE (if set) and the
// environment, then validates the result. Variables already set in the
// environment win over the env file.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: %s: %w", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.ParseStreams(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	log.Printf("[config] loaded %s", path)
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.BinanceStreamURL = getEnv("BINANCE_STREAM_URL", c.BinanceStreamURL)
	c.BinanceRESTURL = getEnv("BINANCE_REST_URL", c.BinanceRESTURL)
	c.KucoinRESTURL = getEnv("KUCOIN_REST_URL", c.KucoinRESTURL)

	c.TelegramToken = getEnv("TELEGRAM_TOKEN", c.TelegramToken)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.Streams = getEnv("STREAMS", c.Streams)

	s := &c.Settings
	s.Exchange = getEnv("EXCHANGE", s.Exchange)
	s.Symbol = getEnv("SYMBOL", s.Symbol)
	s.Interval = getEnv("INTERVAL", s.Interval)
	if v := os.Getenv("STRATEGIES"); v != "" {
		s.Strategies = splitList(v)
	}

	var err error
	if c.RedisDB, err = getEnvInt("REDIS_DB", c.RedisDB); err != nil {
		return err
	}
	if c.TelegramChatID, err = getEnvInt64("TELEGRAM_CHAT_ID", c.TelegramChatID); err != nil {
		return err
	}
	if s.SMAWindow, err = getEnvInt("SMA_WINDOW", s.SMAWindow); err != nil {
		return err
	}
	if s.HistoryLimit, err = getEnvInt("HISTORY_LIMIT", s.HistoryLimit); err != nil {
		return err
	}
	if v := os.Getenv("RELAY"); v != "" {
		if c.Relay, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("config: RELAY: %w", err)
		}
	}
	return nil
}

// ParseStreams parses Streams into instruments.
func (c *Config) ParseStreams() ([]model.Instrument, error) {
	var out []model.Instrument
	for _, item := range splitList(c.Streams) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid stream %q, want exchange:SYMBOL:interval", item)
		}
		inst := model.Instrument{
			Exchange: strings.ToLower(parts[0]),
			Symbol:   strings.ToUpper(parts[1]),
			Interval: parts[2],
		}
		if _, err := inst.Width(); err != nil {
			return nil, fmt.Errorf("stream %q: %w", item, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
