package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/audit"
	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/jobmanager"
	"github.com/mqc3/scheduler/internal/jobmeta"
	"github.com/mqc3/scheduler/internal/paramstore"
	"github.com/mqc3/scheduler/internal/statusmsg"
)

// RoleSizeLimits is the per-role submission-byte cap (§6 environment
// knobs): admin/developer default to 10 MiB, guest to 1 MiB.
type RoleSizeLimits struct {
	ByRole     map[string]int64
	Default    int64
}

// DefaultRoleSizeLimits matches SCHEDULER_MAX_JOB_BYTES_{ADMIN,DEVELOPER,GUEST}.
func DefaultRoleSizeLimits() RoleSizeLimits {
	const mib = 1 << 20
	return RoleSizeLimits{
		ByRole: map[string]int64{
			"admin":     10 * mib,
			"developer": 10 * mib,
			"guest":     1 * mib,
		},
		Default: 1 * mib,
	}
}

func (l RoleSizeLimits) maxFor(role string) int64 {
	if cap, ok := l.ByRole[strings.ToLower(role)]; ok {
		return cap
	}
	return l.Default
}

// SubmissionServer implements the five submission RPCs: SubmitJob,
// GetJobStatus, GetJobResult, CancelJob, GetServiceStatus.
type SubmissionServer struct {
	manager      *jobmanager.Manager
	blobs        blob.Store
	availability *paramstore.View
	catalog      *statusmsg.Catalog
	limits       RoleSizeLimits
	auditLog     *audit.Logger
	logger       *zap.Logger
}

// NewSubmissionServer constructs a SubmissionServer.
func NewSubmissionServer(manager *jobmanager.Manager, blobs blob.Store, availability *paramstore.View, catalog *statusmsg.Catalog, limits RoleSizeLimits, auditLog *audit.Logger, logger *zap.Logger) *SubmissionServer {
	return &SubmissionServer{
		manager: manager, blobs: blobs, availability: availability,
		catalog: catalog, limits: limits, auditLog: auditLog, logger: logger,
	}
}

// Routes registers the submission endpoints on router.
func (s *SubmissionServer) Routes(router *mux.Router) {
	router.HandleFunc("/v1/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{job_id}", s.handleGetJobStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/jobs/{job_id}/result", s.handleGetJobResult).Methods(http.MethodGet)
	router.HandleFunc("/v1/jobs/{job_id}", s.handleCancelJob).Methods(http.MethodDelete)
	router.HandleFunc("/v1/service-status", s.handleGetServiceStatus).Methods(http.MethodGet)
}

func (s *SubmissionServer) audit(r *http.Request, action, jobID, result, detail string) {
	if s.auditLog == nil {
		return
	}
	info, _ := tokenInfoFrom(r.Context())
	entry := audit.Entry{Action: action, JobID: jobID, Result: result, Detail: detail}
	if info != nil {
		entry.Role = info.Role
	}
	if err := s.auditLog.Log(entry); err != nil {
		s.logger.Error("writing audit entry failed", zap.Error(err), zap.String("action", action))
	}
}

type submitJobRequest struct {
	SDKVersion string `json:"sdk_version"`
	Job        struct {
		Program  []byte `json:"program"`
		Settings struct {
			Backend                string  `json:"backend"`
			NShots                 int64   `json:"n_shots"`
			TimeoutSeconds         float64 `json:"timeout_seconds"`
			StateSavePolicy        string  `json:"state_save_policy"`
			ResourceSqueezingLevel float64 `json:"resource_squeezing_level"`
		} `json:"settings"`
	} `json:"job"`
	Options struct {
		SaveJob bool `json:"save_job"`
	} `json:"options"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

func parseStateSavePolicy(raw string) jobmeta.StateSavePolicy {
	switch jobmeta.StateSavePolicy(strings.ToUpper(raw)) {
	case jobmeta.StateSaveAll:
		return jobmeta.StateSaveAll
	case jobmeta.StateSaveFirstOnly:
		return jobmeta.StateSaveFirstOnly
	case jobmeta.StateSaveNone:
		return jobmeta.StateSaveNone
	default:
		return jobmeta.StateSaveUnspecified
	}
}

func (s *SubmissionServer) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	info, ok := tokenInfoFrom(r.Context())
	if !ok {
		writeSchedulerError(w, s.catalog.Get("INVALID_TOKEN", nil))
		return
	}
	token := tokenFrom(r.Context())

	var req submitJobRequest
	body := http.MaxBytesReader(w, r.Body, s.limits.maxFor(info.Role)+4096)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeSchedulerError(w, s.catalog.Get("INVALID_REQUEST", map[string]string{"reason": "malformed request body"}))
		return
	}

	if int64(len(req.Job.Program)) > s.limits.maxFor(info.Role) {
		writeSchedulerError(w, s.catalog.Get("RESOURCE_LIMIT_EXCEEDED", nil))
		s.audit(r, "submit", "", "rejected", "job exceeds role size cap")
		return
	}

	entry, availErr := s.availability.GetAvailability(r.Context(), req.Job.Settings.Backend, info.Role)
	var unknownBackend *paramstore.ErrUnknownBackend
	var unknownRole *paramstore.ErrUnknownRole
	switch {
	case errors.As(availErr, &unknownBackend), errors.As(availErr, &unknownRole):
		writeSchedulerError(w, s.catalog.Get("INVALID_REQUEST", map[string]string{
			"reason": req.Job.Settings.Backend + " is not a supported backend.",
		}))
		return
	case availErr != nil:
		writeSchedulerError(w, s.catalog.Get("INTERNAL_ERROR", nil))
		return
	case entry != nil && entry.Status != paramstore.StatusAvailable:
		writeSchedulerError(w, s.catalog.Get("SERVER_UNAVAILABLE", nil))
		s.audit(r, "submit", "", "rejected", "backend "+req.Job.Settings.Backend+" is "+string(entry.Status))
		return
	}

	meta, ferr := s.manager.AddJobRequest(r.Context(), jobmanager.AddJobRequest{
		SDKVersion:             req.SDKVersion,
		Token:                  token,
		Role:                   info.Role,
		RequestedBackend:       req.Job.Settings.Backend,
		NShots:                 req.Job.Settings.NShots,
		MaxElapsedSeconds:      req.Job.Settings.TimeoutSeconds,
		SaveJob:                req.Options.SaveJob,
		StateSavePolicy:        parseStateSavePolicy(req.Job.Settings.StateSavePolicy),
		ResourceSqueezingLevel: req.Job.Settings.ResourceSqueezingLevel,
		Program:                req.Job.Program,
	})
	if ferr != nil {
		writeSchedulerError(w, ferr)
		s.audit(r, "submit", meta.JobID, "failed", ferr.Message)
		return
	}

	s.audit(r, "submit", meta.JobID, "queued", "")
	writeJSON(w, http.StatusOK, submitJobResponse{JobID: meta.JobID})
}

type jobStatusResponse struct {
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
	StatusCode        string `json:"status_code,omitempty"`
	StatusMessage     string `json:"status_message,omitempty"`
	ActualBackendName string `json:"actual_backend_name,omitempty"`
}

func (s *SubmissionServer) handleGetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	meta, ferr := s.manager.GetJobMetadata(r.Context(), jobID, false)
	if ferr != nil {
		writeSchedulerError(w, ferr)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID: meta.JobID, Status: string(meta.Status), StatusCode: meta.StatusCode,
		StatusMessage: meta.StatusMessage, ActualBackendName: meta.ActualBackendName,
	})
}

type jobResultResponse struct {
	JobID       string `json:"job_id"`
	DownloadURL string `json:"download_url"`
	ExpiresAt   string `json:"expires_at"`
}

func (s *SubmissionServer) handleGetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	meta, ferr := s.manager.GetJobMetadata(r.Context(), jobID, false)
	if ferr != nil {
		writeSchedulerError(w, ferr)
		return
	}
	if meta.Status != jobmeta.StatusCompleted {
		writeSchedulerError(w, s.catalog.Get("INVALID_JOB_STATE", nil))
		return
	}

	url, expiresAt, err := s.blobs.PresignDownloadURL(r.Context(), jobID)
	if err != nil {
		writeSchedulerError(w, s.catalog.Get("INTERNAL_ERROR", nil))
		return
	}
	writeJSON(w, http.StatusOK, jobResultResponse{JobID: jobID, DownloadURL: url, ExpiresAt: expiresAt.Format(timeLayout)})
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func (s *SubmissionServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	ok, ferr := s.manager.CancelJob(r.Context(), jobID)
	if ferr != nil {
		writeSchedulerError(w, ferr)
		s.audit(r, "cancel", jobID, "failed", ferr.Message)
		return
	}
	s.audit(r, "cancel", jobID, "cancelled", "")
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *SubmissionServer) handleGetServiceStatus(w http.ResponseWriter, r *http.Request) {
	backends, err := s.availability.GetAllBackends(r.Context())
	if err != nil {
		writeSchedulerError(w, s.catalog.Get("INTERNAL_ERROR", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backends": backends})
}
