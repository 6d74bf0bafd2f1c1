package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"liblend/internal/lending"
	"liblend/internal/ratelimit"
	"liblend/internal/scheduler"
	"liblend/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Lending   *lending.Service
	Scheduler *scheduler.Scheduler
	// Limiter throttles mutating endpoints per client IP when set.
	Limiter        *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the lending engine.
type Server struct {
	lending   *lending.Service
	scheduler *scheduler.Scheduler
	limiter   *ratelimit.FixedWindowLimiter
	proxies   *util.TrustedProxies
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Lending == nil {
		return nil, errors.New("lending service required")
	}
	s := &Server{
		lending:   cfg.Lending,
		scheduler: cfg.Scheduler,
		limiter:   cfg.Limiter,
		proxies:   cfg.TrustedProxies,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("lending", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/books/", s.withLimit(s.handleBookAction))
	s.mux.HandleFunc("/reservations", s.handleListReservations)
	s.mux.Handle("/reservations/", s.withLimit(s.handleReservationAction))
	s.mux.HandleFunc("/users/", s.handleUserResource)
	s.mux.Handle("/jobs/run", s.withLimit(s.handleRunJobs))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withLimit throttles per client IP when a limiter is configured.
func (s *Server) withLimit(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.proxies)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

type userRequest struct {
	UserID string `json:"userId"`
	Days   int    `json:"days"`
}

// /books/{id}/checkout | return | extend | reserve
func (s *Server) handleBookAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	bookID, action, ok := splitResource(r.URL.Path, "/books/")
	if !ok {
		notFound(w, "not found")
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	ctx := r.Context()
	switch action {
	case "checkout":
		rec, err := s.lending.Checkout(ctx, bookID, req.UserID, req.Days)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	case "return":
		rec, err := s.lending.Return(ctx, bookID, req.UserID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "extend":
		rec, err := s.lending.Extend(ctx, bookID, req.UserID, req.Days)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "reserve":
		res, err := s.lending.Reserve(ctx, bookID, req.UserID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		notFound(w, "not found")
	}
}

// /reservations/{id}/cancel | claim
func (s *Server) handleReservationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	reservationID, action, ok := splitResource(r.URL.Path, "/reservations/")
	if !ok {
		notFound(w, "not found")
		return
	}
	ctx := r.Context()
	switch action {
	case "cancel":
		res, err := s.lending.CancelReservation(ctx, reservationID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "claim":
		var req userRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rec, err := s.lending.ClaimReservation(ctx, reservationID, req.Days)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	default:
		notFound(w, "not found")
	}
}

// GET /reservations and /reservations?userId={id}
func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var err error
	var list any
	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
		list, err = s.lending.ListReservationsForUser(r.Context(), userID)
	} else {
		list, err = s.lending.ListReservations(r.Context())
	}
	if err != nil {
		writeLendingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /users/{id}/borrows | reservations | penalty
func (s *Server) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID, resource, ok := splitResource(r.URL.Path, "/users/")
	if !ok {
		notFound(w, "not found")
		return
	}
	ctx := r.Context()
	switch resource {
	case "borrows":
		records, err := s.lending.BorrowHistory(ctx, userID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	case "reservations":
		list, err := s.lending.ListReservationsForUser(ctx, userID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case "penalty":
		summary, err := s.lending.PenaltyForUser(ctx, userID)
		if err != nil {
			writeLendingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		notFound(w, "not found")
	}
}

// POST /jobs/run triggers every scheduled sweep immediately.
func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusInternalServerError, "scheduler not configured")
		return
	}
	if err := s.scheduler.RunAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "one or more jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// splitResource parses "{prefix}{id}/{action}" into its id and action parts.
func splitResource(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// decodeJSON parses the request body into dst. An empty body leaves dst at
// its zero value.
func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeLendingError maps engine sentinels onto HTTP statuses.
func writeLendingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lending.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lending.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lending.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "LENDING_VALIDATION"
	case http.StatusNotFound:
		return "LENDING_NOT_FOUND"
	case http.StatusConflict:
		return "LENDING_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}
