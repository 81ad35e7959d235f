// cmd/collector follows the configured exchange streams, finalizes candles,
// runs the streaming strategies, stores finalized candles in SQLite,
// publishes live candles and signals to Redis and sends signal alerts.
//
// Config (env vars, .env or CONFIG_FILE):
//
//	STREAMS          : comma-separated exchange:SYMBOL:interval (default: "binance:BTCUSDT:1m")
//	STRATEGIES       : streaming strategies (default: "sma_crossover")
//	SQLITE_PATH      : candle store, empty disables (default: "data/candles.db")
//	REDIS_ADDR       : live fan-out, empty disables
//	TELEGRAM_TOKEN   : with TELEGRAM_CHAT_ID enables Telegram alerts
//	WEBHOOK_URL      : enables webhook alerts
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-signals/config"
	"trading-signals/internal/exchange"
	"trading-signals/internal/logger"
	"trading-signals/internal/metrics"
	"trading-signals/internal/model"
	"trading-signals/internal/notification"
	redisstore "trading-signals/internal/store/redis"
	sqlitestore "trading-signals/internal/store/sqlite"
	"trading-signals/internal/stream"
)

const (
	minBackoff = 2 * time.Second
	maxBackoff = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[collector] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[collector] %v", err)
	}
	lg := logger.Init("collector", logger.ParseLevel(cfg.LogLevel))

	streams, err := cfg.ParseStreams()
	if err != nil {
		log.Fatalf("[collector] %v", err)
	}
	if len(streams) == 0 {
		log.Fatal("[collector] no streams configured via STREAMS")
	}

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite writer (off hot path) ----
	var sqlWriter *sqlitestore.Writer
	sqliteCh := make(chan model.KeyedCandle, 5000)
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
			DBPath: cfg.SQLitePath,
			OnCommit: func(n int, d time.Duration) {
				prom.SQLiteCommitDur.Observe(d.Seconds())
			},
		})
		if err != nil {
			log.Fatalf("[collector] sqlite init failed: %v", err)
		}
		defer sqlWriter.Close()
		go sqlWriter.Run(ctx, sqliteCh)
		log.Println("[collector] sqlite writer ready")
		for _, inst := range streams {
			if last, ok, err := sqlWriter.LastTimestamp(inst); err != nil {
				log.Printf("[collector] %s: last stored candle: %v", inst.Key(), err)
			} else if ok {
				log.Printf("[collector] %s: resuming after stored candle %s", inst.Key(),
					time.Unix(last, 0).UTC().Format(time.RFC3339))
			}
		}
	}

	// ---- Redis writer behind a circuit breaker ----
	var redisWriter *redisstore.Writer
	var breaker *redisstore.CircuitBreaker
	var buffered *redisstore.BufferedWriter
	var publisher model.LivePublisher
	redisCh := make(chan model.KeyedCandle, 5000)
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[collector] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			breaker = redisstore.NewCircuitBreaker(5, 10*time.Second)
			breaker.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
			}
			buffered = redisstore.NewBufferedWriter(ctx, redisWriter, breaker, 10000)
			buffered.OnBuffer = prom.RedisBufferedWrites.Inc
			go buffered.Run(ctx, redisCh)
			publisher = buffered
			log.Println("[collector] redis writer ready")
		}
	}

	// ---- Periodic liveness checks ----
	var rdb *goredis.Client
	var sqlDB *sql.DB
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	if sqlWriter != nil {
		sqlDB = sqlWriter.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Settings (restored from Redis when the signal server saved some) ----
	var persist config.Persister
	if redisWriter != nil {
		persist = redisWriter
	}
	store := config.NewStore(cfg.Settings, persist)
	if ok, err := store.Restore(ctx); err != nil {
		log.Printf("[collector] WARNING: settings restore failed: %v", err)
	} else if ok {
		log.Printf("[collector] settings restored from redis")
	}

	// ---- Notifications ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("[collector] WARNING: telegram disabled: %v", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	alerts := notification.NewDispatcher(256, notifiers...)
	alerts.OnResult = func(channel string, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		prom.Notifications.WithLabelValues(channel, result).Inc()
	}
	go alerts.Run(ctx)
	log.Printf("[collector] alerts: %d channels", alerts.Len())

	// ---- Stream manager ----
	reg := exchange.NewDefaultRegistry(exchange.Endpoints{
		BinanceStream: cfg.BinanceStreamURL,
		BinanceREST:   cfg.BinanceRESTURL,
		KucoinREST:    cfg.KucoinRESTURL,
	})
	manager := stream.NewManager(ctx, reg, func() stream.Options {
		return store.Load().Settings.StreamOptions()
	}, 1024)

	manager.OnFinal = func(kc model.KeyedCandle) {
		prom.FinalizedTotal.WithLabelValues(kc.Key()).Inc()
		if sqlWriter != nil {
			select {
			case sqliteCh <- kc:
			default:
				log.Printf("[collector] sqlite queue full, dropped %s@%d", kc.Key(), kc.Timestamp)
			}
		}
		if publisher != nil {
			select {
			case redisCh <- kc:
			default:
			}
		}
	}
	manager.OnSignal = func(ev model.SignalEvent) {
		prom.SignalsTotal.WithLabelValues(ev.Strategy, string(ev.Side)).Inc()
		lg.Info("signal", "stream", ev.Instrument.Key(), "strategy", ev.Strategy,
			"side", string(ev.Side), "price", ev.Price, "ts", ev.Timestamp)
		if publisher != nil {
			if err := publisher.PublishSignal(ctx, ev); err != nil {
				log.Printf("[collector] publish signal: %v", err)
			}
		}
		alerts.NotifySignal(ev)
	}
	manager.OnMalformed = func(err error) {
		prom.MalformedTotal.WithLabelValues("all").Inc()
	}
	manager.OnDrop = func(inst model.Instrument) {
		prom.FanoutDropsTotal.WithLabelValues(inst.Key()).Inc()
	}
	manager.OnEnd = func(inst model.Instrument, err error) {
		result := "ended"
		if err != nil && !errors.Is(err, stream.ErrFeedClosed) {
			result = "failed"
		}
		prom.FeedSessions.WithLabelValues(result).Inc()
	}

	store.OnChange(func(snap config.Snapshot) {
		log.Printf("[collector] settings v%d apply on the next reconnect", snap.Version)
	})

	for _, inst := range streams {
		go follow(ctx, manager, inst, publisher, prom, health)
	}
	go reportStats(ctx, manager, breaker, buffered, prom, 10*time.Second)

	log.Println("[collector] ╔════════════════════════════════════════════════════════════╗")
	log.Println("[collector] ║  Signal Collector                                          ║")
	log.Println("[collector] ║  [Exchange WS] → [Finalizer] → [Strategies] → [SQLite/Redis]║")
	log.Printf("[collector] ║  Streams: %-48d ║", len(streams))
	log.Println("[collector] ╚════════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[collector] shutdown signal received, cleaning up...")
	cancel()
	manager.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}
	log.Println("[collector] shutdown complete.")
}

// reportStats refreshes the fan-out and Redis gauges every interval.
func reportStats(ctx context.Context, m *stream.Manager, cb *redisstore.CircuitBreaker,
	bw *redisstore.BufferedWriter, prom *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		prom.StreamSubscribers.Reset()
		prom.StreamSaturation.Reset()
		for _, st := range m.Stats() {
			prom.SetStream(st.Key(), st.Subscribers, st.Backlog, st.Capacity)
		}
		if cb != nil {
			prom.RedisCircuitBreakerState.Set(float64(cb.CurrentState()))
			prom.RedisBreakerTrips.Set(float64(cb.Trips()))
		}
		if bw != nil {
			prom.RedisPendingWrites.Set(float64(bw.PendingCount()))
		}
	}
}

// follow keeps one stream subscribed, reconnecting with exponential backoff
// whenever the feed ends. Live candles are relayed to Redis.
func follow(ctx context.Context, m *stream.Manager, inst model.Instrument, pub model.LivePublisher,
	prom *metrics.Metrics, health *metrics.HealthStatus) {
	key := inst.Key()
	backoff := minBackoff
	for {
		sub, err := m.Subscribe(inst)
		if err != nil {
			log.Printf("[collector] %s: %v", key, err)
			return
		}
		prom.FeedSessions.WithLabelValues("started").Inc()
		prom.ActiveStreams.Set(float64(len(m.Active())))
		health.SetActiveStreams(len(m.Active()))
		health.SetFeedConnected(true)

		for lc := range sub.C {
			backoff = minBackoff
			prom.UpdatesTotal.WithLabelValues(key).Inc()
			health.SetLastUpdateTime(time.Now())
			if pub != nil {
				pub.PublishLive(ctx, inst, lc)
			}
		}
		sub.Close()

		n := len(m.Active())
		prom.ActiveStreams.Set(float64(n))
		health.SetActiveStreams(n)
		if n == 0 {
			health.SetFeedConnected(false)
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("[collector] %s disconnected, reconnecting in %v", key, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
