// Package ingress exposes sessions, the message pipeline and pull-request
// publishing over HTTP.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/logger"
	"github.com/harunnryd/inspect/internal/pipeline"
	"github.com/harunnryd/inspect/internal/publish"
	"github.com/harunnryd/inspect/internal/session"
	"github.com/harunnryd/inspect/internal/store"

	"github.com/google/uuid"
)

const TraceHeader = "X-Trace-Id"

const maxBodyBytes = 1 << 20

type Sessions interface {
	CreateSession(ctx context.Context, title string, repo session.RepoBinding) (*session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	Session(ctx context.Context, sessionID string) (*store.Worker, error)
	Ping(ctx context.Context) error
}

type Publisher interface {
	CreatePullRequest(ctx context.Context, req publish.Request) (*publish.Result, error)
}

// Handler routes the v1 API.
type Handler struct {
	sessions  Sessions
	pipeline  *pipeline.Pipeline
	publisher Publisher
	mux       *http.ServeMux
}

func NewHandler(sessions Sessions, publisher Publisher) *Handler {
	h := &Handler{
		sessions:  sessions,
		pipeline:  pipeline.New(sessions),
		publisher: publisher,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("POST /api/v1/sessions", h.handleCreateSession)
	h.mux.HandleFunc("GET /api/v1/sessions", h.handleListSessions)
	h.mux.HandleFunc("GET /api/v1/sessions/{id}", h.handleGetSession)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/participants", h.handleAddParticipant)
	h.mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.handleListMessages)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.handleEnqueue)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/messages/start", h.handleStartNext)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/messages/{mid}/complete", h.handleFinish(session.MessageDone))
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/messages/{mid}/fail", h.handleFinish(session.MessageFailed))
	h.mux.HandleFunc("GET /api/v1/sessions/{id}/artifacts", h.handleListArtifacts)
	h.mux.HandleFunc("POST /api/v1/sessions/{id}/pull-requests", h.handleCreatePullRequest)
	return h
}

// ServeHTTP tags every request with a trace id before routing it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := strings.TrimSpace(r.Header.Get(TraceHeader))
	if traceID == "" {
		traceID = uuid.NewString()
	}
	w.Header().Set(TraceHeader, traceID)

	ctx := logger.WithTraceID(r.Context(), traceID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r.WithContext(ctx))
	logger.From(ctx).Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.Category(err)
	msg := apperrors.Message(err)

	log := logger.From(r.Context())
	if id := r.PathValue("id"); id != "" {
		log = log.With("session", id)
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
		if code == "Internal" || code == "Unknown" {
			code, msg = "Internal", "internal error"
		}
	} else {
		log.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "invalid request body", err)
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
