// Package api exposes the HTTP status interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
	"github.com/tributolabs/iptu-scraper/internal/storage/postgres"
	"github.com/tributolabs/iptu-scraper/internal/telemetry"
)

// BatchReader loads batch progress rows.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (scraper.BatchSnapshot, error)
}

// ResultReader lists stored scrape results.
type ResultReader interface {
	ListResults(ctx context.Context, contributorNumber string, limit int) ([]scraper.ScrapeResult, error)
}

// Server wires HTTP handlers to the stores.
type Server struct {
	router  chi.Router
	batches BatchReader
	results ResultReader
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(batches BatchReader, results ResultReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		batches: batches,
		results: results,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/batches/{batch_id}", s.getBatch)
		r.Get("/results", s.listResults)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	if s.batches == nil {
		s.writeError(w, http.StatusServiceUnavailable, "batch store not configured")
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	snap, err := s.batches.GetBatch(r.Context(), batchID)
	if errors.Is(err, postgres.ErrBatchNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Error("get batch failed", zap.String("batch_id", batchID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	s.writeJSON(w, http.StatusOK, batchResponse(snap))
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		s.writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	contributor := r.URL.Query().Get("numero_contribuinte")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be in [1,500]")
			return
		}
		limit = parsed
	}

	results, err := s.results.ListResults(r.Context(), contributor, limit)
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if results == nil {
		results = []scraper.ScrapeResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func batchResponse(snap scraper.BatchSnapshot) map[string]any {
	resp := map[string]any{
		"id":         snap.ID,
		"total":      snap.Total,
		"processed":  snap.Processed,
		"succeeded":  snap.Succeeded,
		"failed":     snap.Failed,
		"status":     string(snap.Status),
		"started_at": snap.StartedAt,
	}
	if snap.CompletedAt != nil {
		resp["completed_at"] = *snap.CompletedAt
	}
	return resp
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
