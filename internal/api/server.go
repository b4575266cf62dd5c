// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/redditextract/redditextract/internal/dispatcher"
	"github.com/redditextract/redditextract/internal/scrape"
	"github.com/redditextract/redditextract/internal/worker"
)

// Config controls HTTP behavior.
type Config struct {
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
	Limits         Limits
}

// Server wires HTTP handlers to the job store, dispatcher and fetch engine.
type Server struct {
	router     chi.Router
	store      scrape.JobStore
	dispatcher *dispatcher.Dispatcher
	engine     *worker.Engine
	formatter  scrape.Formatter
	clock      scrape.Clock
	cfg        Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store scrape.JobStore,
	disp *dispatcher.Dispatcher,
	engine *worker.Engine,
	formatter scrape.Formatter,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 55 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		dispatcher: disp,
		engine:     engine,
		formatter:  formatter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", s.scrape)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/summary", s.jobsSummary)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scrapeRequest is the POST /api/scrape body: scrape parameters plus the
// execution mode. Requests carrying a webhook always run asynchronously.
type scrapeRequest struct {
	scrape.ScrapeRequest
	Async bool `json:"async"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var body scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	if err := validateRequest(&body.ScrapeRequest, s.cfg.Limits); err != nil {
		var ve *validationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"errors":  toErrorList("INVALID_PARAMS", ve.Problems),
			})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
		return
	}

	if body.Async || body.WebhookURL != "" {
		s.scrapeAsync(w, r, body.ScrapeRequest)
		return
	}
	s.scrapeSync(w, r, body.ScrapeRequest)
}

func (s *Server) scrapeAsync(w http.ResponseWriter, r *http.Request, req scrape.ScrapeRequest) {
	job, err := s.store.Create(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create job")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.dispatcher.Enqueue(queueCtx, job.ID); err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "job queue is full, retry later")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) scrapeSync(w http.ResponseWriter, r *http.Request, req scrape.ScrapeRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SyncTimeout)
	defer cancel()

	start := s.clock.Now()
	outcome := s.engine.Run(ctx, req, nil)
	finished := s.clock.Now()

	if outcome.PlanError != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMS", outcome.PlanError.Error())
		return
	}
	if outcome.PagesOK == 0 {
		resp := scrape.Response{
			Success: false,
			Errors:  outcome.Errors,
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	resp := scrape.BuildResponse(req, outcome.Result, outcome.Errors, finished, finished.Sub(start))
	rendered, err := s.formatter.Render(resp, req.OutputFormat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "FORMAT_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", s.formatter.ContentType(req.OutputFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rendered); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var filter *scrape.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := scrape.JobStatus(raw)
		switch status {
		case scrape.JobStatusQueued, scrape.JobStatusRunning,
			scrape.JobStatusSucceeded, scrape.JobStatusFailed, scrape.JobStatusCancelled:
			filter = &status
		default:
			writeError(w, http.StatusBadRequest, "INVALID_PARAMS", "unknown status filter")
			return
		}
	}
	jobs, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list jobs")
		return
	}
	views := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views, "count": len(views)})
}

func (s *Server) jobsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to summarize jobs")
		return
	}
	counts := map[string]int{}
	total := 0
	for status, n := range summary {
		counts[string(status)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "byStatus": counts})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.RequestCancel(r.Context(), jobID)
	switch {
	case errors.Is(err, scrape.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	case errors.Is(err, scrape.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "job already finished")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":           job.ID,
		"status":          string(job.Status),
		"cancelRequested": job.CancelRequested,
	})
}

// jobView shapes a job snapshot for API consumers. Succeeded jobs carry the
// full response envelope; others expose progress and errors only.
func jobView(job scrape.Job) map[string]any {
	view := map[string]any{
		"jobId":     job.ID,
		"status":    string(job.Status),
		"request":   job.Request,
		"progress":  job.Progress,
		"createdAt": job.CreatedAt,
	}
	if job.StartedAt != nil {
		view["startedAt"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		view["finishedAt"] = job.FinishedAt
	}
	if len(job.Errors) > 0 {
		view["errors"] = job.Errors
	}
	if job.Status.Terminal() {
		view["result"] = scrape.BuildJobResponse(job)
	}
	if job.Delivery != nil {
		view["webhookDelivery"] = job.Delivery
	}
	return view
}

func toErrorList(code string, problems []string) []map[string]string {
	out := make([]map[string]string, 0, len(problems))
	for _, p := range problems {
		out = append(out, map[string]string{"code": code, "message": p})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"errors":  []map[string]string{{"code": code, "message": msg}},
	})
}
