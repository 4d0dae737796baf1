package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusops/hiberctl/pkg/orchestrator"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// Scanner is the subset of pkg/orchestrator.Orchestrator the Trigger API
// depends on (SPEC_FULL.md §4.13).
type Scanner interface {
	FullScan(ctx context.Context, tenantID string, trigger schedule.TriggerSource) (orchestrator.ScanResult, error)
	PartialScan(ctx context.Context, scheduleID, tenantID string, trigger schedule.TriggerSource, actorIdentity string) (orchestrator.ScanResult, error)
}

// scanResultResponse is the JSON shape of spec.md §6's Result object.
type scanResultResponse struct {
	Success            bool   `json:"success"`
	ExecutionID        string `json:"executionId"`
	Mode               string `json:"mode"`
	SchedulesProcessed int    `json:"schedulesProcessed"`
	ResourcesStarted   int    `json:"resourcesStarted"`
	ResourcesStopped   int    `json:"resourcesStopped"`
	ResourcesFailed    int    `json:"resourcesFailed"`
	DurationMS         int64  `json:"durationMs"`
}

func toScanResultResponse(result orchestrator.ScanResult) scanResultResponse {
	return scanResultResponse{
		Success:            result.Success,
		ExecutionID:        result.ExecutionID,
		Mode:               string(result.Mode),
		SchedulesProcessed: result.SchedulesProcessed,
		ResourcesStarted:   result.ResourcesStarted,
		ResourcesStopped:   result.ResourcesStopped,
		ResourcesFailed:    result.ResourcesFailed,
		DurationMS:         result.Duration.Milliseconds(),
	}
}

// Server is the Trigger HTTP API (SPEC_FULL.md §4.13): exactly
// POST /v1/scans, POST /v1/scans/{scheduleId}, GET /healthz, GET /metrics.
// There is no schedule CRUD, no resource listing, and no session/OIDC auth —
// those belong to an external dashboard, not this core.
type Server struct {
	Router  *chi.Mux
	scanner Scanner
	logger  *slog.Logger
}

// NewServer builds the Trigger API router. sharedSecretToken, if non-empty,
// requires every /v1/scans request to carry a matching X-Hiberctl-Token
// header.
func NewServer(scanner Scanner, metricsReg *prometheus.Registry, logger *slog.Logger, sharedSecretToken string) *Server {
	s := &Server{Router: chi.NewRouter(), scanner: scanner, logger: logger}

	metricsReg.MustRegister(MetricsCollectors()...)

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Group(func(r chi.Router) {
		r.Use(SharedSecretAuth(sharedSecretToken))
		r.Post("/v1/scans", s.handleFullScan)
		r.Post("/v1/scans/{scheduleId}", s.handlePartialScan)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fullScanRequest is the optional body for POST /v1/scans.
type fullScanRequest struct {
	TenantID string `json:"tenantId"`
}

func (s *Server) handleFullScan(w http.ResponseWriter, r *http.Request) {
	var req fullScanRequest
	// The body is optional; an empty or absent body means "all tenants".
	if r.ContentLength > 0 {
		if !DecodeAndValidate(w, r, &req) {
			return
		}
	}

	result, err := s.scanner.FullScan(r.Context(), req.TenantID, schedule.TriggerOnDemand)
	if err != nil {
		s.logger.Error("full scan", "error", err)
		RespondError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}

	Respond(w, http.StatusOK, toScanResultResponse(result))
}

// partialScanRequest is the body for POST /v1/scans/{scheduleId}.
type partialScanRequest struct {
	TenantID      string `json:"tenantId" validate:"required"`
	ActorIdentity string `json:"actorIdentity"`
	TriggerSource string `json:"triggerSource"`
}

func (s *Server) handlePartialScan(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleId")

	var req partialScanRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	trigger := schedule.TriggerOnDemand
	if req.TriggerSource != "" {
		trigger = schedule.TriggerSource(req.TriggerSource)
	}

	result, err := s.scanner.PartialScan(r.Context(), scheduleID, req.TenantID, trigger, req.ActorIdentity)
	if err != nil {
		var notFound *schedule.ScheduleNotFoundError
		if errors.As(err, &notFound) {
			RespondError(w, http.StatusNotFound, "schedule_not_found", notFound.Error())
			return
		}
		s.logger.Error("partial scan", "scheduleId", scheduleID, "error", err)
		RespondError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}

	Respond(w, http.StatusOK, toScanResultResponse(result))
}
