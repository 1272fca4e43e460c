package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/D2dProtocol/d2d-program/native/treasury"
	"github.com/D2dProtocol/d2d-program/services/treasuryd/journal"
	"github.com/D2dProtocol/d2d-program/storage/trie"
)

const requestIDHeader = "X-Request-ID"

// Treasury is the read-only engine surface served over HTTP.
type Treasury interface {
	Ledger() (*treasury.Ledger, error)
	Staker(id string) (*treasury.StakerPosition, error)
	Claimable(id string) (treasury.ClaimResult, error)
	QueueEntry(position uint64) (*treasury.QueueEntry, error)
	Deployment(id string) (*treasury.DebtRecord, error)
	Liquidity() (treasury.LiquidityView, error)
	APY() (treasury.APYQuote, error)
	CheckInvariants() error
}

// JournalReader lists journaled operations.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.OperationRecord, error)
}

// StateCommitter reports the Merkle root over the persisted treasury records.
type StateCommitter interface {
	StateRoot() (trie.Commitment, error)
}

// RequestObserver records per-route request outcomes.
type RequestObserver interface {
	Observe(route string, status int, duration time.Duration)
	RecordThrottle(reason string)
}

// Config wires the server's collaborators. Everything except Treasury is
// optional.
type Config struct {
	Treasury  Treasury
	State     StateCommitter
	Journal   JournalReader
	Metrics   RequestObserver
	Logger    *slog.Logger
	RateLimit RateLimit
	// Tracer wraps every request in an otelhttp span when set.
	Tracer trace.TracerProvider
}

// Server exposes treasury views over HTTP.
type Server struct {
	treasury Treasury
	state    StateCommitter
	journal  JournalReader
	metrics  RequestObserver
	logger   *slog.Logger
	limiter  *RateLimiter
	tracer   trace.TracerProvider
}

// New validates the configuration and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Treasury == nil {
		return nil, errors.New("server: treasury engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		treasury: cfg.Treasury,
		state:    cfg.State,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		logger:   logger,
		tracer:   cfg.Tracer,
	}
	var onReject func(string)
	if cfg.Metrics != nil {
		onReject = cfg.Metrics.RecordThrottle
	}
	s.limiter = NewRateLimiter(cfg.RateLimit, onReject)
	return s, nil
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.Middleware)
		v1.Get("/ledger", s.observe("ledger", s.handleLedger))
		v1.Get("/liquidity", s.observe("liquidity", s.handleLiquidity))
		v1.Get("/apy", s.observe("apy", s.handleAPY))
		v1.Get("/invariants", s.observe("invariants", s.handleInvariants))
		v1.Get("/stakers/{id}", s.observe("staker", s.handleStaker))
		v1.Get("/queue/{position}", s.observe("queue", s.handleQueueEntry))
		v1.Get("/deployments/{id}", s.observe("deployment", s.handleDeployment))
		if s.state != nil {
			v1.Get("/root", s.observe("root", s.handleRoot))
		}
		if s.journal != nil {
			v1.Get("/journal", s.observe("journal", s.handleJournal))
		}
	})
	if s.tracer != nil {
		return otelhttp.NewHandler(r, "treasuryd", otelhttp.WithTracerProvider(s.tracer))
	}
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.Observe(route, rec.status, elapsed)
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Error("treasury query failed",
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.String("request_id", w.Header().Get(requestIDHeader)))
		}
	}
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.treasury.Ledger()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLedgerView(ledger))
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	view, err := s.treasury.Liquidity()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLiquidityView(view))
}

func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	quote, err := s.treasury.APY()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apyView{
		UtilizationBps: quote.UtilizationBps,
		MultiplierBps:  quote.MultiplierBps,
		APYBps:         quote.APYBps,
	})
}

func (s *Server) handleInvariants(w http.ResponseWriter, r *http.Request) {
	err := s.treasury.CheckInvariants()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, treasury.ErrInvariantViolated):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "violation": err.Error()})
	default:
		s.writeEngineError(w, err)
	}
}

func (s *Server) handleStaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	staker, err := s.treasury.Staker(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	claimable, err := s.treasury.Claimable(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStakerView(staker, &claimable))
}

func (s *Server) handleQueueEntry(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.ParseUint(chi.URLParam(r, "position"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "position must be an unsigned integer")
		return
	}
	entry, err := s.treasury.QueueEntry(position)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueView(entry))
}

func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	record, err := s.treasury.Deployment(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeploymentView(record))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	c, err := s.state.StateRoot()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": c.Root.Hex(), "records": c.Records})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	records, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": records})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, treasury.ErrUnknownStaker),
		errors.Is(err, treasury.ErrUnknownDeployment),
		errors.Is(err, treasury.ErrInvalidQueuePosition):
		status = http.StatusNotFound
	case errors.Is(err, treasury.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("treasury view failed", slog.Any("error", err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
