package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/job"
	"github.com/Sternrassler/comment-crawler/pkg/logging"
	"github.com/Sternrassler/comment-crawler/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const requestTimeout = 30 * time.Second

// server exposes the job manager over HTTP.
type server struct {
	jobs   *job.Manager
	ping   func(ctx context.Context) error
	logger zerolog.Logger
}

// startResponse answers POST /crawl/start.
type startResponse struct {
	TaskID  string     `json:"task_id"`
	Status  job.Status `json:"status"`
	Message string     `json:"message"`
}

type listResponse struct {
	Tasks []job.Job `json:"tasks"`
	Total int       `json:"total"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Get("/status/{taskID}", s.handleStatus)
			r.Post("/cancel", s.handleCancel)
			r.Get("/list", s.handleList)
			r.Delete("/cleanup", s.handleCleanup)
		})
		r.Get("/data/{name}", s.handleData)
	})

	return r
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, messageResponse{Message: "Comment crawler API is running"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"redis":     "disabled",
	}
	if s.ping == nil {
		s.respondWithJSON(w, http.StatusOK, status)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Health check failed for redis")
		status["status"] = "unhealthy"
		status["redis"] = "unhealthy"
		s.respondWithJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["redis"] = "healthy"
	s.respondWithJSON(w, http.StatusOK, status)
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.respondWithJobError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, startResponse{
		TaskID:  id,
		Status:  job.StatusPending,
		Message: "Crawling task started",
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.respondWithJobError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, j)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("task_id")
	if id == "" {
		n := s.jobs.CancelAll(r.Context())
		s.respondWithJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Cancelled %d tasks", n)})
		return
	}

	j, err := s.jobs.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, job.ErrTerminal):
		s.respondWithJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Task already %s", j.Status)})
	case err != nil:
		s.respondWithJobError(w, err)
	default:
		s.respondWithJSON(w, http.StatusOK, messageResponse{Message: "Task cancelled"})
	}
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.respondWithJobError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, listResponse{Tasks: jobs, Total: len(jobs)})
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.Cleanup(r.Context())
	if err != nil {
		s.respondWithJobError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Removed %d old tasks", n)})
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	a, err := s.jobs.Artifact(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondWithJobError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, a)
}

// respondWithJobError maps manager errors to HTTP statuses.
func (s *server) respondWithJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, job.ErrArtifactNotFound):
		s.respondWithError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, job.ErrInvalidRequest):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrClosed):
		s.respondWithError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, errorResponse{Detail: message})
}

func (s *server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		code = http.StatusInternalServerError
		response = []byte(`{"detail":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// allowCORS lets browser extensions on any origin call the API.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
