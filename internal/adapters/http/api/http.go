// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	service "github.com/okian/callqa/internal/app"
	"github.com/okian/callqa/internal/adapters/repository"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
)

const defaultMaxUploadBytes = 512 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CallDependencies
	ScorecardDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	callsHandler     *CallsHandler
	scorecardHandler *ScorecardsHandler
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps the size of POST /calls bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.callsHandler.maxUpload = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		callsHandler:     NewCallsHandler(deps),
		scorecardHandler: NewScorecardsHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to router.
func (s *Server) Register(_ context.Context, router *mux.Router) {
	router.Use(MetricsMiddleware)

	router.HandleFunc("/healthz", s.healthHandler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", s.healthHandler.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.statsHandler.HandleStats).Methods(http.MethodGet)

	router.HandleFunc("/calls", s.callsHandler.HandleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/calls", s.callsHandler.HandleList).Methods(http.MethodGet)
	router.HandleFunc("/calls/{id:[0-9]+}", s.callsHandler.HandleGet).Methods(http.MethodGet)
	router.HandleFunc("/calls/{id:[0-9]+}", s.callsHandler.HandleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/calls/{id:[0-9]+}/timing", s.callsHandler.HandleTiming).Methods(http.MethodGet)
	router.HandleFunc("/calls/{id:[0-9]+}/questions", s.callsHandler.HandleQuestion).Methods(http.MethodPost)
	router.HandleFunc("/calls/{id:[0-9]+}/summary", s.callsHandler.HandleSummary).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}", s.callsHandler.HandleJob).Methods(http.MethodGet)

	// latest before {version} so the literal wins
	router.HandleFunc("/scorecards/latest", s.scorecardHandler.HandleLatest).Methods(http.MethodGet)
	router.HandleFunc("/scorecards/{version:[0-9]+}", s.scorecardHandler.HandleGet).Methods(http.MethodGet)
	router.HandleFunc("/scorecards/{version:[0-9]+}", s.scorecardHandler.HandlePut).Methods(http.MethodPut)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
}

// Handler returns a router with every route registered.
func (s *Server) Handler(ctx context.Context) http.Handler {
	router := mux.NewRouter()
	s.Register(ctx, router)
	return router
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure translates upstream errors to status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidUpload),
		errors.Is(err, service.ErrEmptyInput),
		errors.Is(err, grading.ErrNoCriteria),
		errors.Is(err, repository.ErrInvalid):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// writeOutcome sends a stage result, or the error behind a failed one.
func writeOutcome(w http.ResponseWriter, o model.Outcome, v any) {
	if o.OK() {
		writeJSON(w, http.StatusOK, v)
		return
	}
	if errors.Is(o.Err, service.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, "bad_request", o.Err)
		return
	}
	writeError(w, http.StatusBadGateway, "provider_error", o.Err)
}
