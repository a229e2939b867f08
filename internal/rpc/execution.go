package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/audit"
	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/durable"
	"github.com/mqc3/scheduler/internal/jobmanager"
	"github.com/mqc3/scheduler/internal/jobmeta"
	"github.com/mqc3/scheduler/internal/statusmsg"
)

// ExecutionServer implements the three execution RPCs: AssignNextJob,
// ReportExecutionResult, RefreshUploadUrl.
type ExecutionServer struct {
	manager  *jobmanager.Manager
	durable  durable.Store
	blobs    blob.Store
	catalog  *statusmsg.Catalog
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewExecutionServer constructs an ExecutionServer.
func NewExecutionServer(manager *jobmanager.Manager, store durable.Store, blobs blob.Store, catalog *statusmsg.Catalog, auditLog *audit.Logger, logger *zap.Logger) *ExecutionServer {
	return &ExecutionServer{manager: manager, durable: store, blobs: blobs, catalog: catalog, auditLog: auditLog, logger: logger}
}

// Routes registers the execution endpoints on router.
func (s *ExecutionServer) Routes(router *mux.Router) {
	router.HandleFunc("/v1/backends/{backend}/assign", s.handleAssignNextJob).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{job_id}/result", s.handleReportExecutionResult).Methods(http.MethodPost)
	router.HandleFunc("/v1/jobs/{job_id}/upload-url", s.handleRefreshUploadURL).Methods(http.MethodPost)
}

func (s *ExecutionServer) audit(r *http.Request, action, jobID, result, detail string) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(audit.Entry{Action: action, JobID: jobID, Result: result, Detail: detail}); err != nil {
		s.logger.Error("writing audit entry failed", zap.Error(err), zap.String("action", action))
	}
}

type assignJobResponse struct {
	JobID     string `json:"job_id"`
	Program   []byte `json:"program"`
	UploadURL string `json:"upload_url"`
	ExpiresAt string `json:"expires_at"`
}

func (s *ExecutionServer) handleAssignNextJob(w http.ResponseWriter, r *http.Request) {
	backend := mux.Vars(r)["backend"]
	assign, ferr := s.manager.FetchNextJobToExecute(r.Context(), backend)
	if ferr != nil {
		writeSchedulerError(w, ferr)
		return
	}
	if assign == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"empty": true})
		return
	}
	s.audit(r, "assign", assign.JobID, "running", "backend="+backend)
	writeJSON(w, http.StatusOK, assignJobResponse{
		JobID: assign.JobID, Program: assign.Program,
		UploadURL: assign.UploadURL, ExpiresAt: assign.UploadExpiresAt.Format(timeLayout),
	})
}

type reportExecutionResultRequest struct {
	ExecutionStatus     string           `json:"execution_status"`
	ErrorCode           string           `json:"error_code"`
	ErrorDescription    string           `json:"error_description"`
	ActualBackend       string           `json:"actual_backend"`
	Versions            jobmeta.Versions `json:"versions"`
	CompileStartedAt    time.Time        `json:"compile_started_at"`
	CompileFinishedAt   time.Time        `json:"compile_finished_at"`
	ExecutionStartedAt  time.Time        `json:"execution_started_at"`
	ExecutionFinishedAt time.Time        `json:"execution_finished_at"`
	RawSizeBytes        int64            `json:"raw_size_bytes"`
	EncodedSizeBytes    int64            `json:"encoded_size_bytes"`
}

func (s *ExecutionServer) handleReportExecutionResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	var req reportExecutionResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchedulerError(w, s.catalog.Get("INVALID_REQUEST", map[string]string{"reason": "malformed request body"}))
		return
	}

	ferr := s.manager.FinalizeJob(r.Context(), jobmanager.FinalizeReport{
		JobID:               jobID,
		ExecutionStatus:     req.ExecutionStatus,
		ErrorCode:           req.ErrorCode,
		ErrorDescription:    req.ErrorDescription,
		ActualBackend:       req.ActualBackend,
		Versions:            req.Versions,
		CompileStartedAt:    req.CompileStartedAt,
		CompileFinishedAt:   req.CompileFinishedAt,
		ExecutionStartedAt:  req.ExecutionStartedAt,
		ExecutionFinishedAt: req.ExecutionFinishedAt,
		RawSizeBytes:        req.RawSizeBytes,
		EncodedSizeBytes:    req.EncodedSizeBytes,
	})
	if ferr != nil {
		writeSchedulerError(w, ferr)
		s.audit(r, "finalize", jobID, "failed", ferr.Message)
		return
	}
	s.audit(r, "finalize", jobID, req.ExecutionStatus, "")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type refreshUploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	ExpiresAt string `json:"expires_at"`
}

// handleRefreshUploadURL re-issues a presigned upload URL for a job that
// has not yet reached a terminal state. It bypasses the job manager: it
// neither mutates the queue nor the durable record, so it does not need
// the manager's single mutation lock.
func (s *ExecutionServer) handleRefreshUploadURL(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	meta, err := s.durable.Get(r.Context(), jobID, false)
	if err != nil {
		writeSchedulerError(w, s.catalog.Get("JOB_NOT_FOUND", map[string]string{"job_id": jobID}))
		return
	}
	if meta.Status != jobmeta.StatusQueued && meta.Status != jobmeta.StatusRunning {
		writeSchedulerError(w, s.catalog.Get("INVALID_JOB_STATE", nil))
		return
	}

	url, expiresAt, presignErr := s.blobs.PresignUploadURL(r.Context(), jobID)
	if presignErr != nil {
		writeSchedulerError(w, s.catalog.Get("INTERNAL_ERROR", nil))
		return
	}
	writeJSON(w, http.StatusOK, refreshUploadURLResponse{UploadURL: url, ExpiresAt: expiresAt.Format(timeLayout)})
}
