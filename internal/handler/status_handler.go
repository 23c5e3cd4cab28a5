package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkodi/terabox-bot/internal/logger"
	"github.com/darkodi/terabox-bot/internal/resolver"
	"github.com/darkodi/terabox-bot/internal/worker"
)

// Pinger checks the state store
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionStatus reports the resolver session health
type SessionStatus interface {
	Status() resolver.Status
}

// PoolStats reports worker pool counters
type PoolStats interface {
	Stats() worker.Stats
}

// UserCounter counts registered users
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status  string          `json:"status"`
	Store   string          `json:"store"`
	Session resolver.Status `json:"session"`
	Uptime  string          `json:"uptime"`
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Workers worker.Stats `json:"workers"`
	Users   int          `json:"users"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusHandler serves the operational endpoints next to the bot
type StatusHandler struct {
	store   Pinger
	session SessionStatus
	pool    PoolStats
	users   UserCounter
	started time.Time
	log     *logger.Logger
}

// NewStatusHandler creates a new handler instance
func NewStatusHandler(store Pinger, session SessionStatus, pool PoolStats, users UserCounter, log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		store:   store,
		session: session,
		pool:    pool,
		users:   users,
		started: time.Now(),
		log:     log,
	}
}

// ============ HANDLERS ============

// HandleHealth reports store and session health
// GET /health
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Store:   "ok",
		Session: h.session.Status(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	code := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("store ping failed")
		resp.Status = "unhealthy"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	} else if !resp.Session.Healthy {
		// the bot still answers commands without a session
		resp.Status = "degraded"
	}

	writeJSON(w, code, resp)
}

// HandleStats returns worker counters and the user count
// GET /stats
func (h *StatusHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	n, err := h.users.Count(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count users")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to count users"})
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{Workers: h.pool.Stats(), Users: n})
}

// ============ ROUTER SETUP ============

// SetupRoutes configures all HTTP routes
func (h *StatusHandler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
