package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading-signals/config"
	"trading-signals/internal/backtest"
	"trading-signals/internal/exchange"
	"trading-signals/internal/indicator"
	"trading-signals/internal/logger"
	"trading-signals/internal/metrics"
	"trading-signals/internal/model"
	"trading-signals/internal/strategy"
)

// DefaultHistoryLimit is the number of candles /historical_data returns
// when the request names none.
const DefaultHistoryLimit = 50

const maxBodyBytes = 8 << 20

// Deps are the collaborators of the API server. Store is required; every
// other field may be nil and disables the routes that need it.
type Deps struct {
	Store    *config.Store
	Live     LiveSource
	Exchange *exchange.Registry
	Candles  model.CandleReader
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
}

// Server serves the signal API.
type Server struct {
	ctx  context.Context
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates the API server. ctx bounds the lifetime of WebSocket
// sessions.
func NewServer(ctx context.Context, deps Deps) *Server {
	s := &Server{ctx: ctx, deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.handle("/calculate", http.MethodPost, s.handleCalculate)
	s.handle("/generate_signals", http.MethodPost, s.handleGenerate)
	s.handle("/backtest", http.MethodPost, s.handleBacktest)
	s.handle("/historical_data", http.MethodGet, s.handleHistorical)
	s.handle("/api/config", "", s.handleConfig)

	s.mux.HandleFunc("/ws/data", s.handleWS(""))
	s.mux.HandleFunc("/ws/kucoin", s.handleWS("kucoin"))

	if s.deps.Health != nil {
		s.mux.Handle("/healthz", s.deps.Health)
	}
	s.mux.Handle("/metrics", metrics.Handler())
}

// handle wraps a REST route with CORS, a request id, a method check and
// request metrics. An empty method accepts GET and POST.
func (s *Server) handle(route, method string, h http.HandlerFunc) {
	s.mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logger.NewRequestID("req", start)
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		switch {
		case method != "" && r.Method != method:
			writeError(rec, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		case method == "" && r.Method != http.MethodGet && r.Method != http.MethodPost:
			writeError(rec, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		default:
			r.Body = http.MaxBytesReader(rec, r.Body, maxBodyBytes)
			h(rec, r)
		}

		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTP(route, rec.code, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var unknown *model.UnknownIndicatorError
	switch {
	case errors.As(err, &unknown),
		model.IsDataFormat(err),
		errors.Is(err, model.ErrInsufficientHistory),
		errors.Is(err, backtest.ErrNoPriceData):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON: " + err.Error())
	}
	return nil
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := indicator.ParseConfig(req.IndicatorName, req.Variables)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	series, err := toSeries(req.PriceData)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	settings := s.deps.Store.Load().Settings
	calc, err := strategy.Calculate(series, cfg, req.DetectDivergence, settings.Params().Thresholds)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	rows := make([]map[string]any, len(series))
	for i, c := range series {
		rows[i] = baseRow(c, "datetime")
	}
	enrich(rows, calc.Output)
	writeJSON(w, http.StatusOK, CalculateResponse{Data: rows, Signals: calc.Summary})
}

// enrich adds every indicator column to the aligned rows.
func enrich(rows []map[string]any, out indicator.Output) {
	for _, col := range out.Columns {
		for i, p := range col.Points {
			rows[i][col.Name] = p
		}
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	series, err := toSeries(req.PriceData)
	if err == nil {
		err = strategy.CheckOrdered(series)
	}
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	window := req.SMAWindow
	if window < 0 {
		writeError(w, http.StatusBadRequest, &model.DataFormatError{Field: "sma_window", Reason: "must be positive"})
		return
	}
	if window == 0 {
		window = s.deps.Store.Load().Settings.SMAWindow
	}
	buys, sells := strategy.Split(strategy.Crossover(series, window))
	writeJSON(w, http.StatusOK, SignalsResponse{BuySignals: nonNil(buys), SellSignals: nonNil(sells)})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	prices, err := toSeries(req.PriceData)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	// An explicit zero balance is kept; only an absent one takes the default.
	balance := s.deps.Store.Load().Settings.InitialBalance
	if balance <= 0 {
		balance = backtest.DefaultInitialBalance
	}
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
		if balance < 0 {
			writeError(w, http.StatusBadRequest, &model.DataFormatError{Field: "initial_balance", Reason: "negative balance"})
			return
		}
	}

	start := time.Now()
	res, err := backtest.Run(req.BuySignals, req.SellSignals, prices, balance)
	if s.deps.Metrics != nil {
		s.deps.Metrics.BacktestDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if res.Trades == nil {
		res.Trades = []backtest.Trade{}
	}
	log.Printf("[gateway] backtest %s: %d trades, final balance %.2f",
		logger.RequestID(r.Context()), len(res.Trades), res.FinalBalance)
	writeJSON(w, http.StatusOK, res)
}

// handleHistorical fetches recent candles for an instrument, computes the
// MACD and RSI divergence summaries and the crossover signals. Candles come
// from the exchange REST client and fall back to the candle store.
func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	settings := s.deps.Store.Load().Settings
	q := r.URL.Query()

	def := settings.Instrument()
	def.Exchange = "kucoin"
	inst, err := instrumentFrom(q.Get("exchange"), q.Get("symbol"), q.Get("interval"), def)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := DefaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1500 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 1500"))
			return
		}
		limit = n
	}

	series, source, err := s.history(r.Context(), inst, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, errors.New("no candles for "+inst.Key()))
		return
	}

	p := settings.Params()
	rows := make([]map[string]any, len(series))
	for i, c := range series {
		rows[i] = baseRow(c, "timestamp")
	}
	var summaries []strategy.Summary
	for _, cfg := range []indicator.Config{p.MACD, p.RSI} {
		calc, err := strategy.Calculate(series, cfg, true, p.Thresholds)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		enrich(rows, calc.Output)
		summaries = append(summaries, calc.Summary)
	}
	buys, sells := strategy.Split(strategy.Crossover(series, p.SMAWindow))

	writeJSON(w, http.StatusOK, HistoricalResponse{
		Source:         source,
		HistoricalData: rows,
		BuySignals:     nonNil(buys),
		SellSignals:    nonNil(sells),
		Signals:        summaries,
	})
}

func (s *Server) history(ctx context.Context, inst model.Instrument, limit int) ([]model.Candle, string, error) {
	var restErr error
	if s.deps.Exchange != nil {
		if h, err := s.deps.Exchange.History(inst.Exchange); err == nil {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			series, err := h.Klines(ctx, inst, limit)
			if err == nil {
				return series, inst.Exchange, nil
			}
			restErr = err
			log.Printf("[gateway] %s history: %v", inst.Key(), err)
		} else {
			restErr = err
		}
	}
	if s.deps.Candles != nil {
		series, err := s.deps.Candles.ReadCandles(inst, 0, limit)
		if err != nil {
			return nil, "", err
		}
		return series, "store", nil
	}
	if restErr == nil {
		restErr = errors.New("no candle source configured")
	}
	return nil, "", restErr
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.deps.Store.Load())
		return
	}

	// Fields missing from the body keep their current values.
	next := s.deps.Store.Load().Settings
	if err := decode(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.deps.Store.Swap(next)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log.Printf("[gateway] settings v%d applied %s", snap.Version, logger.RequestID(r.Context()))
	writeJSON(w, http.StatusOK, snap)
}

// instrumentFrom fills empty query values from def and checks the interval.
func instrumentFrom(ex, symbol, interval string, def model.Instrument) (model.Instrument, error) {
	inst := def
	if ex != "" {
		inst.Exchange = strings.ToLower(ex)
	}
	if symbol != "" {
		inst.Symbol = strings.ToUpper(symbol)
	}
	if interval != "" {
		inst.Interval = interval
	}
	if _, err := inst.Width(); err != nil {
		return model.Instrument{}, err
	}
	return inst, nil
}
