package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lifeos/internal/ingest"
	"lifeos/internal/metrics"
	"lifeos/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Ingester runs ingestion cycles and holds the last good snapshot.
// UpdateThreadStatus reports failures with the ingest sentinel errors.
type Ingester interface {
	LoadAll(ctx context.Context) (models.Snapshot, error)
	Snapshot() (models.Snapshot, bool)
	UpdateThreadStatus(id string, status models.MessageStatus) (models.EmailThread, error)
}

// Summarizer turns a snapshot into a LifeAnalysis. It never fails.
type Summarizer interface {
	Analyze(ctx context.Context, events []models.CalendarEvent, threads []models.EmailThread) models.LifeAnalysis
}

// Server serves the dashboard JSON API.
type Server struct {
	logger     *slog.Logger
	ingester   Ingester
	summarizer Summarizer

	mu         sync.Mutex
	analysis   models.LifeAnalysis
	analyzedAt time.Time // LoadedAt of the snapshot analysis belongs to
}

// NewServer creates a Server. summarizer may be nil, in which case the
// analysis route answers 404.
func NewServer(logger *slog.Logger, ingester Ingester, summarizer Summarizer) *Server {
	return &Server{logger: logger, ingester: ingester, summarizer: summarizer}
}

// Router wires the dashboard routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.getSnapshot)
		r.Get("/analysis", s.getAnalysis)
		r.Post("/refresh", s.refresh)
		r.Post("/threads/{id}/status", s.setThreadStatus)
	})
	return r
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.ingester.Snapshot()
	if !ok {
		s.writeError(w, r, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		s.writeError(w, r, http.StatusNotFound, "analysis is not configured")
		return
	}
	snap, ok := s.ingester.Snapshot()
	if !ok {
		s.writeError(w, r, http.StatusServiceUnavailable, "no data loaded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, s.analyze(r.Context(), snap))
}

// analyze returns the cached analysis for snap, computing it on first use.
func (s *Server) analyze(ctx context.Context, snap models.Snapshot) models.LifeAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.analyzedAt.IsZero() && s.analyzedAt.Equal(snap.LoadedAt) {
		return s.analysis
	}
	s.analysis = s.summarizer.Analyze(ctx, snap.Events, snap.Threads)
	s.analyzedAt = snap.LoadedAt
	return s.analysis
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ingester.LoadAll(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type statusRequest struct {
	Status models.MessageStatus `json:"status"`
}

func (s *Server) setThreadStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	thread, err := s.ingester.UpdateThreadStatus(chi.URLParam(r, "id"), req.Status)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrInvalidStatus):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ingest.ErrThreadNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ingest.ErrNotLoaded):
		s.writeError(w, r, http.StatusServiceUnavailable, "no data loaded yet")
		return
	default:
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.analyzedAt = time.Time{}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, thread)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.logger.Warn("Request failed", "requestID", middleware.GetReqID(r.Context()), "path", r.URL.Path, "status", status, "error", msg)
	s.writeJSON(w, status, map[string]string{"error": msg})
}
