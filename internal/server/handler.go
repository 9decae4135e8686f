// internal/server/handler.go
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/kernel"
	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/store"
)

// Diagnoser is the kernel surface exposed over HTTP
type Diagnoser interface {
	Start(ctx context.Context, plantID, problem string) (*protocol.SessionView, error)
	Resume(ctx context.Context, sessionID, reply string) (*protocol.SessionView, error)
	History(ctx context.Context, plantID string) ([]protocol.SessionSummary, error)
	Session(ctx context.Context, sessionID string) (*protocol.Session, error)
}

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the diagnosis API
type Handler struct {
	kernel          Diagnoser
	db              Pinger
	apiKey          string
	maxPayloadBytes int64
	logger          *zap.Logger
}

// NewHandler creates a new API handler. An empty apiKey disables auth.
func NewHandler(k Diagnoser, db Pinger, apiKey string, maxPayloadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 64 * 1024
	}
	return &Handler{
		kernel:          k,
		db:              db,
		apiKey:          apiKey,
		maxPayloadBytes: maxPayloadBytes,
		logger:          logger,
	}
}

// Routes builds the router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/plants/{plantID}/diagnoses", h.startDiagnosis)
		r.Get("/plants/{plantID}/diagnoses", h.listDiagnoses)
		r.Get("/diagnoses/{sessionID}", h.getDiagnosis)
		r.Post("/diagnoses/{sessionID}/reply", h.replyDiagnosis)
	})
	return r
}

type startRequest struct {
	Problem string `json:"problem"`
}

type replyRequest struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) startDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.kernel.Start(r.Context(), chi.URLParam(r, "plantID"), req.Problem)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) replyDiagnosis(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.kernel.Resume(r.Context(), chi.URLParam(r, "sessionID"), req.Reply)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listDiagnoses(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.kernel.History(r.Context(), chi.URLParam(r, "plantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []protocol.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) getDiagnosis(w http.ResponseWriter, r *http.Request) {
	sess, err := h.kernel.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// decode reads a size-limited JSON body into v, writing the error response
// itself on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength > h.maxPayloadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request entity too large"})
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxPayloadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return false
	}
	if int64(len(body)) > h.maxPayloadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request entity too large"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, kernel.ErrPlantNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSessionBusy),
		errors.Is(err, kernel.ErrNotAwaitingReply),
		errors.Is(err, kernel.ErrSessionClosed),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, kernel.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
