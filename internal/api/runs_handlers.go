package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/analysis"
)

const (
	defaultRunsLimit    = 100
	maxRunsLimit        = 1000
	defaultRecordsLimit = 100
	maxRecordsLimit     = 1000
	handlerTimeout      = 3 * time.Second
)

// listRuns handles GET /v1/runs?limit=&offset=. Runs come back newest
// first. Invalid pagination values yield 400.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithHandlerTimeout(r)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunsLimit, maxRunsLimit)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(ctx, offset, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"runs":   runs,
		"offset": offset,
		"limit":  limit,
	})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithHandlerTimeout(r)
	defer cancel()

	runID := chi.URLParam(r, "run_id")
	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, analysis.ErrRunNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"run": run})
}

// listRecords handles GET /v1/runs/{run_id}/records?limit=&offset=. The
// window preserves input order; an unknown run is 404 rather than an empty
// page.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithHandlerTimeout(r)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRecordsLimit, maxRecordsLimit)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	runID := chi.URLParam(r, "run_id")
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		if errors.Is(err, analysis.ErrRunNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	records, err := s.store.ListRecords(ctx, runID, offset, limit)
	if err != nil {
		s.logger.Error("list records failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list records")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"records": records,
		"offset":  offset,
		"limit":   limit,
	})
}

// getSummary handles GET /v1/runs/{run_id}/summary.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithHandlerTimeout(r)
	defer cancel()

	runID := chi.URLParam(r, "run_id")
	summary, err := s.store.GetSummary(ctx, runID)
	if errors.Is(err, analysis.ErrRunNotFound) {
		writeError(s.logger, w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		s.logger.Error("get summary failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch summary")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"summary": summary})
}

// listEvents handles GET /v1/runs/{run_id}/events, the persisted progress
// timeline in append order.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithHandlerTimeout(r)
	defer cancel()

	runID := chi.URLParam(r, "run_id")
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		if errors.Is(err, analysis.ErrRunNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	events, err := s.store.ListEvents(ctx, runID)
	if err != nil {
		s.logger.Error("list events failed", zap.String("run_id", runID), zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": events,
	})
}

func contextWithHandlerTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), handlerTimeout)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
