// Package metrics exposes Prometheus collectors and the /healthz probe.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the signal pipeline.
type Metrics struct {
	// Live pipeline, labelled by stream key
	UpdatesTotal   *prometheus.CounterVec
	FinalizedTotal *prometheus.CounterVec
	MalformedTotal *prometheus.CounterVec
	SignalsTotal   *prometheus.CounterVec // labels: strategy, side
	FeedSessions   *prometheus.CounterVec // labels: result=started|ended|failed
	ActiveStreams  prometheus.Gauge

	// Backpressure
	FanoutDropsTotal  *prometheus.CounterVec // labels: stream
	StreamSubscribers *prometheus.GaugeVec   // labels: stream
	StreamSaturation  *prometheus.GaugeVec   // labels: stream, fullest subscriber queue 0..1

	// Storage
	SQLiteCommitDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBufferedWrites      prometheus.Counter
	RedisPendingWrites       prometheus.Gauge
	RedisBreakerTrips        prometheus.Gauge

	// Batch API
	BacktestDur   prometheus.Histogram
	HTTPRequests  *prometheus.CounterVec // labels: route, code
	HTTPDur       *prometheus.HistogramVec
	Notifications *prometheus.CounterVec // labels: channel, result
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_updates_total",
			Help: "Raw kline updates received from exchange feeds",
		}, []string{"stream"}),
		FinalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_candles_finalized_total",
			Help: "Candles emitted with is_final=true",
		}, []string{"stream"}),
		MalformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_updates_malformed_total",
			Help: "Updates rejected as malformed or out of order",
		}, []string{"stream"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_emitted_total",
			Help: "Signals raised by streaming strategies",
		}, []string{"strategy", "side"}),
		FeedSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_feed_sessions_total",
			Help: "Exchange feed sessions by outcome",
		}, []string{"result"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_active_streams",
			Help: "Live streams currently running",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_fanout_drops_total",
			Help: "Live candles dropped for slow subscribers",
		}, []string{"stream"}),
		StreamSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signals_stream_subscribers",
			Help: "Subscribers of each running stream",
		}, []string{"stream"}),
		StreamSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signals_stream_queue_saturation",
			Help: "Fill ratio of the fullest subscriber queue of each stream",
		}, []string{"stream"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signals_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker was open",
		}),
		RedisPendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_redis_pending_writes",
			Help: "Buffered Redis writes waiting to be flushed",
		}),
		RedisBreakerTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signals_redis_circuit_breaker_trips",
			Help: "Times the Redis circuit breaker has opened since start",
		}),

		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signals_backtest_duration_seconds",
			Help:    "Backtest simulation latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signals_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_notifications_total",
			Help: "Signal notifications by channel and result",
		}, []string{"channel", "result"}),
	}

	reg.MustRegister(
		m.UpdatesTotal,
		m.FinalizedTotal,
		m.MalformedTotal,
		m.SignalsTotal,
		m.FeedSessions,
		m.ActiveStreams,
		m.FanoutDropsTotal,
		m.StreamSubscribers,
		m.StreamSaturation,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisBufferedWrites,
		m.RedisPendingWrites,
		m.RedisBreakerTrips,
		m.BacktestDur,
		m.HTTPRequests,
		m.HTTPDur,
		m.Notifications,
	)
	return m
}

// SetStream records the fan-out state of one running stream.
func (m *Metrics) SetStream(stream string, subscribers, backlog, capacity int) {
	m.StreamSubscribers.WithLabelValues(stream).Set(float64(subscribers))
	sat := 0.0
	if capacity > 0 {
		sat = float64(backlog) / float64(capacity)
	}
	m.StreamSaturation.WithLabelValues(stream).Set(sat)
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDur.WithLabelValues(route).Observe(d.Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastUpdateTime time.Time
	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool
	ActiveStreams  int

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastUpdateTime(t time.Time) {
	h.mu.Lock()
	h.LastUpdateTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveStreams(n int) {
	h.mu.Lock()
	h.ActiveStreams = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies
// are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastUpdateTime  string  `json:"last_update_time,omitempty"`
	UpdateAge       string  `json:"update_age,omitempty"`
	ActiveStreams   int     `json:"active_streams"`
	RedisConnected  *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// Report builds the health report and its HTTP status code. Only enabled
// dependencies count: a failing one degrades, all failing is unhealthy.
func (h *HealthStatus) Report() (HealthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rep := HealthReport{
		Status:        "healthy",
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		ActiveStreams: h.ActiveStreams,
	}
	if !h.LastUpdateTime.IsZero() {
		rep.LastUpdateTime = h.LastUpdateTime.Format(time.RFC3339)
		rep.UpdateAge = time.Since(h.LastUpdateTime).Round(time.Millisecond).String()
	}
	if !h.LastCheckAt.IsZero() {
		rep.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	enabled, failing := 0, 0
	if h.RedisEnabled {
		v := h.RedisConnected
		rep.RedisConnected, rep.RedisLatencyMs = &v, h.RedisLatencyMs
		enabled++
		if !v {
			failing++
		}
	}
	if h.SQLiteEnabled {
		v := h.SQLiteOK
		rep.SQLiteOK, rep.SQLiteLatencyMs = &v, h.SQLiteLatencyMs
		enabled++
		if !v {
			failing++
		}
	}

	switch {
	case failing > 0 && failing == enabled:
		rep.Status = "unhealthy"
		return rep, http.StatusServiceUnavailable
	case failing > 0:
		rep.Status = "degraded"
		return rep, http.StatusServiceUnavailable
	}
	return rep, http.StatusOK
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rep)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
