// cmd/signalserver serves the signal API: batch indicator and signal
// computation, backtests, historical data and live WebSocket streams.
//
// Live streams come from in-process exchange sessions, or from Redis when
// RELAY=true and a collector publishes them. /metrics and /healthz are
// served on the API listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-signals/config"
	"trading-signals/internal/exchange"
	"trading-signals/internal/gateway"
	"trading-signals/internal/logger"
	"trading-signals/internal/metrics"
	"trading-signals/internal/model"
	redisstore "trading-signals/internal/store/redis"
	sqlitestore "trading-signals/internal/store/sqlite"
	"trading-signals/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[signalserver] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[signalserver] %v", err)
	}
	logger.Init("signalserver", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()

	// ---- Redis: settings persistence and live relay (optional) ----
	var redisWriter *redisstore.Writer
	var redisReader *redisstore.Reader
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[signalserver] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer redisWriter.Close()
			if cfg.Relay {
				redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				if err != nil {
					log.Printf("[signalserver] WARNING: redis reader failed: %v", err)
				} else {
					defer redisReader.Close()
				}
			}
		}
	}

	// ---- SQLite: fallback for /historical_data (optional) ----
	var candles model.CandleReader
	var sqlDB *sql.DB
	if cfg.SQLitePath != "" {
		if _, statErr := os.Stat(cfg.SQLitePath); statErr == nil {
			r, err := sqlitestore.NewReader(cfg.SQLitePath)
			if err != nil {
				log.Printf("[signalserver] WARNING: sqlite reader failed: %v", err)
			} else {
				defer r.Close()
				candles = r
				sqlDB = r.DB()
			}
		} else {
			log.Printf("[signalserver] no candle store at %s, history comes from exchanges only", cfg.SQLitePath)
		}
	}

	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Settings ----
	var persist config.Persister
	if redisWriter != nil {
		persist = redisWriter
	}
	store := config.NewStore(cfg.Settings, persist)
	if ok, err := store.Restore(ctx); err != nil {
		log.Printf("[signalserver] WARNING: settings restore failed: %v", err)
	} else if ok {
		log.Printf("[signalserver] settings v%d restored from redis", store.Load().Version)
	}
	store.OnChange(func(snap config.Snapshot) {
		s := snap.Settings
		var labels []string
		for _, c := range s.Indicators() {
			labels = append(labels, c.Label())
		}
		log.Printf("[signalserver] settings v%d: %s:%s:%s sma=%d strategies=%v indicators=%v",
			snap.Version, s.Exchange, s.Symbol, s.Interval, s.SMAWindow, s.Strategies, labels)
	})

	// ---- Exchanges and live source ----
	reg := exchange.NewDefaultRegistry(exchange.Endpoints{
		BinanceStream: cfg.BinanceStreamURL,
		BinanceREST:   cfg.BinanceRESTURL,
		KucoinREST:    cfg.KucoinRESTURL,
	})

	var live gateway.LiveSource
	mode := "direct"
	if redisReader != nil {
		live = gateway.NewRelaySource(redisReader, 256)
		mode = "relay"
		health.SetFeedConnected(true)
	} else {
		manager := stream.NewManager(ctx, reg, func() stream.Options {
			return store.Load().Settings.StreamOptions()
		}, 256)
		defer manager.Close()
		manager.OnFinal = func(kc model.KeyedCandle) {
			prom.FinalizedTotal.WithLabelValues(kc.Key()).Inc()
		}
		manager.OnSignal = func(ev model.SignalEvent) {
			prom.SignalsTotal.WithLabelValues(ev.Strategy, string(ev.Side)).Inc()
		}
		manager.OnMalformed = func(err error) {
			prom.MalformedTotal.WithLabelValues("all").Inc()
		}
		manager.OnDrop = func(inst model.Instrument) {
			prom.FanoutDropsTotal.WithLabelValues(inst.Key()).Inc()
		}
		manager.OnEnd = func(inst model.Instrument, err error) {
			n := len(manager.Active())
			prom.ActiveStreams.Set(float64(n))
			health.SetActiveStreams(n)
			health.SetFeedConnected(n > 0)
			result := "ended"
			if err != nil && !errors.Is(err, stream.ErrFeedClosed) {
				result = "failed"
			}
			prom.FeedSessions.WithLabelValues(result).Inc()
		}
		live = &countingSource{src: gateway.NewManagerSource(manager), m: manager, prom: prom, health: health}
	}

	api := gateway.NewServer(ctx, gateway.Deps{
		Store:    store,
		Live:     live,
		Exchange: reg,
		Candles:  candles,
		Metrics:  prom,
		Health:   health,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[signalserver] ✅ serving at http://localhost%s (live: %s)", cfg.HTTPAddr, mode)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[signalserver] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[signalserver] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	log.Println("[signalserver] shutdown complete.")
}

// countingSource keeps the stream gauges current as clients subscribe.
type countingSource struct {
	src    gateway.LiveSource
	m      *stream.Manager
	prom   *metrics.Metrics
	health *metrics.HealthStatus
}

func (c *countingSource) Live(ctx context.Context, inst model.Instrument) (<-chan model.LiveCandle, error) {
	ch, err := c.src.Live(ctx, inst)
	if err != nil {
		return nil, err
	}
	n := len(c.m.Active())
	c.prom.ActiveStreams.Set(float64(n))
	c.health.SetActiveStreams(n)
	c.health.SetFeedConnected(true)
	return ch, nil
}
