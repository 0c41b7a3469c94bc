// Package server exposes scheduler status over HTTP and gRPC health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rishansujesh/ads-warehouse/internal/jobs"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
	"github.com/rishansujesh/ads-warehouse/internal/schedule"
)

// JobSource is the registry view the server reads. *schedule.Scheduler
// satisfies it.
type JobSource interface {
	JobStatus() []schedule.JobStatus
	Job(name string) (*jobs.Job, bool)
}

// RunHistory serves persisted runs. *jobs.Store satisfies it.
type RunHistory interface {
	ListRunsForJob(ctx context.Context, jobName string, limit int) ([]jobs.StoredRun, error)
	LastSuccess(ctx context.Context, jobName string) (*jobs.StoredRun, error)
}

// Check is one readiness check, e.g. a Redis ping.
type Check func(ctx context.Context) error

type Server struct {
	Jobs   JobSource
	Runs   RunHistory // optional; falls back to in-memory history
	Checks map[string]Check
	Logger *slog.Logger

	health *health.Server
}

func New(js JobSource, runs RunHistory, checks map[string]Check, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Jobs:   js,
		Runs:   runs,
		Checks: checks,
		Logger: logger.With("component", "api"),
		health: health.NewServer(),
	}
}

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// Handler routes the HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "scheduler"})
	})
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /v1/jobs", s.listJobs)
	mux.HandleFunc("GET /v1/jobs/{name}", s.getJob)
	mux.HandleFunc("GET /v1/jobs/{name}/runs", s.listRuns)
	return mux
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.Logger.WarnContext(ctx, "readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.Jobs.JobStatus()})
}

// jobDetail adds the newest persisted success, which outlives the
// in-memory history across restarts.
type jobDetail struct {
	schedule.JobStatus
	LastSuccess *jobs.StoredRun `json:"last_success,omitempty"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, st := range s.Jobs.JobStatus() {
		if st.Name != name {
			continue
		}
		out := jobDetail{JobStatus: st}
		if s.Runs != nil {
			last, err := s.Runs.LastSuccess(r.Context(), name)
			switch {
			case err == nil:
				out.LastSuccess = last
			case !errors.Is(err, jobs.ErrNotFound):
				s.Logger.WarnContext(r.Context(), "last success lookup failed", "job", name, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeError(w, http.StatusNotFound, "job not found")
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, ok := s.Jobs.Job(name)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	if s.Runs != nil {
		runs, err := s.Runs.ListRunsForJob(r.Context(), name, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "persisted": true})
			return
		}
		s.Logger.WarnContext(r.Context(), "run store unavailable, serving memory", "job", name, "error", err)
	}

	history := job.History()
	// newest first, like the store
	out := make([]jobs.JobRun, 0, min(limit, len(history)))
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out, "persisted": false})
}

// Health exposes the gRPC health server so it can be registered.
func (s *Server) Health() *health.Server { return s.health }

// SyncHealth publishes one gRPC health service per job: serving while the
// job is disabled, has not run or last succeeded.
func (s *Server) SyncHealth() {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, st := range s.Jobs.JobStatus() {
		status := healthpb.HealthCheckResponse_SERVING
		if st.Enabled && st.LastRun != nil && st.LastRun.CompletedAt != nil && !st.LastRun.Success {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(HealthService(st.Name), status)
	}
	s.health.SetServingStatus("", overall)
}

// HealthService is the gRPC health service name for a job.
func HealthService(job string) string { return "etl.job." + job }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
