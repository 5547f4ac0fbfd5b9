package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reelpipe/internal/api"
	"reelpipe/internal/config"
	"reelpipe/internal/logging"
	"reelpipe/internal/orchestrator"
	"reelpipe/internal/services"
	"reelpipe/internal/store"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	token := cfg.Paths.APIToken

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	r := chi.NewRouter()
	if d.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", srv.handleStatus)
		r.Get("/queue", srv.handleQueue)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", srv.handleCreateJob)
			r.Get("/{id}", srv.handleJob)
			r.Post("/{id}/regenerate", srv.handleRegenerate)
			r.Post("/{id}/review", srv.handleReview)
		})
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", srv.handleBatches)
			r.Post("/", srv.handleCreateBatch)
			r.Get("/{id}", srv.handleBatch)
		})
		r.Post("/master-batches", srv.handleCreateMasterBatch)
	})

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr reports the bound listen address, for tests that bind port 0.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workers:      status.Workers,
		QueueStats:   status.QueueStats,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, store.Status(trimmed))
	}
	jobs, err := s.daemon.queries.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.queries.DescribeJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *view})
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.daemon.orch.CreateJob(r.Context(), orchestrator.JobRequest{
		SourceVideoURL: req.SourceVideoURL,
		ModelImageURL:  req.ModelImageURL,
		ModelID:        req.ModelID,
		Pipeline:       req.Pipeline,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondJob(w, r, http.StatusAccepted, job.ID)
}

func (s *apiServer) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req api.RegenerateRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.daemon.orch.Regenerate(r.Context(), chi.URLParam(r, "id"), req.FromStep)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondJob(w, r, http.StatusAccepted, job.ID)
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request) {
	var req api.ReviewRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.daemon.orch.SetPostStatus(r.Context(), chi.URLParam(r, "id"), store.PostStatus(req.Status), req.Caption)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondJob(w, r, http.StatusOK, job.ID)
}

func (s *apiServer) handleBatches(w http.ResponseWriter, r *http.Request) {
	kind := store.BatchKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = store.KindBatch
	}
	batches, err := s.daemon.queries.ListBatches(r.Context(), kind)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchListResponse{Batches: batches})
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.queries.DescribeBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.BatchResponse{Batch: *view})
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	batch, _, err := s.daemon.orch.CreateBatch(r.Context(), req.SourceVideoURLs, orchestrator.JobRequest{
		ModelImageURL: req.ModelImageURL,
		ModelID:       req.ModelID,
		Pipeline:      req.Pipeline,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondBatch(w, r, batch.ID)
}

func (s *apiServer) handleCreateMasterBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateMasterBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	personas := make([]orchestrator.Persona, 0, len(req.Personas))
	for _, p := range req.Personas {
		personas = append(personas, orchestrator.Persona{ID: p.ID, ImageURL: p.ImageURL})
	}
	batch, _, err := s.daemon.orch.CreateMasterBatch(r.Context(), personas, req.Pipeline)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondBatch(w, r, batch.ID)
}

func (s *apiServer) respondJob(w http.ResponseWriter, r *http.Request, status int, id string) {
	view, err := s.daemon.queries.DescribeJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, status, api.JobResponse{Job: *view})
}

func (s *apiServer) respondBatch(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.daemon.queries.DescribeBatch(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.BatchResponse{Batch: *view})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrConfiguration):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
