// Package jobmanager implements the job state machine and manager (C4):
// submit, dispatch, finalize, and cancel, keeping the durable table
// consistent with the in-memory queue container and recovering on
// startup. It is grounded on the original job_manager module, including
// its startup-recovery sweep and its treatment of partial failures as
// FAILED rather than silently dropped jobs.
package jobmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/durable"
	"github.com/mqc3/scheduler/internal/errs"
	"github.com/mqc3/scheduler/internal/jobmeta"
	"github.com/mqc3/scheduler/internal/priority"
	"github.com/mqc3/scheduler/internal/queue"
	"github.com/mqc3/scheduler/internal/statusmsg"
)

// Publisher is notified of job lifecycle transitions. It is satisfied by
// internal/events.Publisher; a nil Publisher is a valid no-op.
type Publisher interface {
	Publish(eventType string, meta *jobmeta.Metadata)
}

// Deps are the collaborators a Manager is constructed with.
type Deps struct {
	Durable durable.Store
	Blobs   blob.Store
	Queues  *queue.Container
	Config  *priority.Config
	Clock   clock.Clock
	Catalog *statusmsg.Catalog
	Logger  *zap.Logger
	Events  Publisher
}

// Manager orchestrates the job lifecycle. A single, non-reentrant mutex
// guards each of its public mutating methods; internal helpers assume the
// lock is already held rather than reacquiring it (§9 re-entrancy
// resolution: restructure to single-acquisition instead of a re-entrant
// lock).
type Manager struct {
	mu sync.Mutex

	durable durable.Store
	blobs   blob.Store
	queues  *queue.Container
	cfg     *priority.Config
	clock   clock.Clock
	catalog *statusmsg.Catalog
	logger  *zap.Logger
	events  Publisher
}

// New constructs a Manager, verifying both external stores are reachable
// and then running the startup recovery sweep over QUEUED and RUNNING
// jobs. A missing table or bucket is fatal, matching the original's
// RuntimeError on a missing table.
func New(ctx context.Context, deps Deps) (*Manager, error) {
	if err := deps.Durable.EnsureTableExists(ctx); err != nil {
		return nil, fmt.Errorf("jobmanager: durable table unavailable: %w", err)
	}
	if exists, err := deps.Blobs.BucketExists(ctx); err != nil || !exists {
		return nil, fmt.Errorf("jobmanager: blob bucket unavailable: %w", err)
	}

	m := &Manager{
		durable: deps.Durable,
		blobs:   deps.Blobs,
		queues:  deps.Queues,
		cfg:     deps.Config,
		clock:   deps.Clock,
		catalog: deps.Catalog,
		logger:  deps.Logger,
		events:  deps.Events,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	if err := m.recover(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func jobTimeout(meta *jobmeta.Metadata) time.Duration {
	return time.Duration(meta.MaxElapsedSeconds * float64(time.Second))
}

func mapExecutionStatus(raw string) jobmeta.Status {
	switch strings.ToUpper(raw) {
	case "SUCCESS":
		return jobmeta.StatusCompleted
	case "FAILURE":
		return jobmeta.StatusFailed
	case "TIMEOUT":
		return jobmeta.StatusTimeout
	default:
		return jobmeta.StatusUnspecified
	}
}

// fail marks meta FAILED with the rendered message for kind and returns the
// structured error, so callers can both mutate the record in place and
// hand the same error back across the RPC boundary.
func (m *Manager) fail(meta *jobmeta.Metadata, kind errs.Kind, args map[string]string) *errs.Error {
	sErr := m.catalog.Get(string(kind), args)
	meta.Status = jobmeta.StatusFailed
	meta.StatusCode = string(sErr.Code)
	meta.StatusMessage = sErr.Message
	return sErr
}

func (m *Manager) publish(eventType string, meta *jobmeta.Metadata) {
	if m.events == nil {
		return
	}
	m.events.Publish(eventType, meta)
}

// AddJobRequest is the input to AddJobRequest.
type AddJobRequest struct {
	JobID                  string // minted if empty
	SDKVersion             string
	Token                  string
	Role                   string
	RequestedBackend       string
	NShots                 int64
	MaxElapsedSeconds      float64
	SaveJob                bool
	StateSavePolicy        jobmeta.StateSavePolicy
	ResourceSqueezingLevel float64
	Program                []byte
}

// AddJobRequest mints a job id, attempts to enqueue and upload the job,
// and persists the resulting metadata. It always returns the metadata
// (even on failure, with Status=FAILED filled in); the *errs.Error is
// non-nil exactly when the metadata's status ended up FAILED.
func (m *Manager) AddJobRequest(ctx context.Context, req AddJobRequest) (*jobmeta.Metadata, *errs.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addJobRequestLocked(ctx, req)
}

func (m *Manager) addJobRequestLocked(ctx context.Context, req AddJobRequest) (*jobmeta.Metadata, *errs.Error) {
	now := m.clock.Now()
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	meta := jobmeta.New(jobID, req.SDKVersion, req.Token, req.Role, req.RequestedBackend,
		req.NShots, req.MaxElapsedSeconds, req.SaveJob, req.StateSavePolicy, req.ResourceSqueezingLevel, now)

	var ferr *errs.Error
	var q *queue.Queue

	if !m.queues.Has(req.RequestedBackend) {
		ferr = m.fail(meta, errs.InvalidRequest, map[string]string{
			"reason": fmt.Sprintf("%s is not a supported backend.", req.RequestedBackend),
		})
	} else {
		var err error
		q, err = m.queues.Get(req.RequestedBackend)
		if err != nil {
			ferr = m.fail(meta, errs.CriticalError, nil)
		} else {
			pushed, pushErr := q.TryPush(jobID, req.Token, req.Role, req.Program, now, jobTimeout(meta))
			switch {
			case pushErr != nil:
				// Duplicate id is an invariant violation: return
				// immediately without touching the durable table, so the
				// earlier record that already owns this id is untouched.
				m.logger.Error("duplicate job id pushed to queue", zap.String("job_id", jobID), zap.Error(pushErr))
				return meta, m.fail(meta, errs.CriticalError, nil)
			case !pushed:
				ferr = m.fail(meta, errs.ResourceLimitExceeded, nil)
			default:
				meta.Status = jobmeta.StatusQueued
				meta.QueuedAt = now
				if uploadErr := m.blobs.UploadInput(ctx, jobID, req.Program); uploadErr != nil {
					// §9 orphaned-blob resolution (a): remove the queue
					// entry before reporting FAILED, rather than leaving
					// a job that will fail again at dispatch time.
					q.TryRemove(jobID)
					m.logger.Error("uploading job input failed", zap.String("job_id", jobID), zap.Error(uploadErr))
					ferr = m.fail(meta, errs.InternalError, nil)
				}
			}
		}
	}

	if err := m.durable.PutIfAbsent(ctx, meta); err != nil {
		if meta.Status == jobmeta.StatusQueued && q != nil {
			q.TryRemove(jobID)
		}
		m.logger.Error("persisting new job failed", zap.String("job_id", jobID), zap.Error(err))
		return meta, m.fail(meta, errs.InternalError, nil)
	}

	if ferr == nil && meta.Status == jobmeta.StatusQueued {
		m.publish("job.queued", meta)
	}
	return meta, ferr
}

// AssignResult is the successful response to FetchNextJobToExecute.
type AssignResult struct {
	JobID           string
	Metadata        *jobmeta.Metadata
	Program         []byte
	UploadURL       string
	UploadExpiresAt time.Time
}

// FetchNextJobToExecute pops the next job for backend and transitions it
// to RUNNING. A nil result with a nil error means the queue was empty.
//
// Per the §9 dispatch-ordering hardening, the durable record is flipped to
// RUNNING before the upload URL is requested: if that update fails, a
// single re-push is attempted (preserving the original queued_at) so the
// job is not lost from both the queue and the durable record at once.
func (m *Manager) FetchNextJobToExecute(ctx context.Context, backend string) (*AssignResult, *errs.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchNextLocked(ctx, backend)
}

func (m *Manager) fetchNextLocked(ctx context.Context, backend string) (*AssignResult, *errs.Error) {
	if !m.queues.Has(backend) {
		return nil, m.catalog.Get(string(errs.InvalidRequest), map[string]string{
			"reason": fmt.Sprintf("%s is not a supported backend.", backend),
		})
	}
	q, err := m.queues.Get(backend)
	if err != nil {
		return nil, m.catalog.Get(string(errs.CriticalError), nil)
	}

	now := m.clock.Now()
	jobID, program, popped := q.TryPop(now)
	if !popped {
		return nil, nil
	}

	meta, getErr := m.durable.Get(ctx, jobID, true)
	if getErr != nil {
		m.logger.Error("consistent read after pop failed", zap.String("job_id", jobID), zap.Error(getErr))
		sErr := m.catalog.Get(string(errs.InternalError), nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = jobmeta.StatusFailed, string(sErr.Code), sErr.Message
		})
		return nil, sErr
	}

	if updateErr := m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
		mm.Status = jobmeta.StatusRunning
		mm.DequeuedAt = now
	}); updateErr != nil {
		if requeued, reErr := q.TryPush(jobID, meta.Token, meta.Role, program, meta.QueuedAt, jobTimeout(meta)); reErr == nil && requeued {
			m.logger.Warn("dispatch-time RUNNING update failed, re-queued job",
				zap.String("job_id", jobID), zap.Error(updateErr))
			return nil, m.catalog.Get(string(errs.InternalError), nil)
		}
		sErr := m.fail(meta, errs.InternalError, nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = meta.Status, meta.StatusCode, meta.StatusMessage
		})
		return nil, sErr
	}
	meta.Status = jobmeta.StatusRunning
	meta.DequeuedAt = now

	url, expiresAt, presignErr := m.blobs.PresignUploadURL(ctx, jobID)
	if presignErr != nil {
		m.logger.Error("presigning upload url failed", zap.String("job_id", jobID), zap.Error(presignErr))
		sErr := m.fail(meta, errs.InternalError, nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = meta.Status, meta.StatusCode, meta.StatusMessage
		})
		return nil, sErr
	}

	m.publish("job.running", meta)
	return &AssignResult{JobID: jobID, Metadata: meta, Program: program, UploadURL: url, UploadExpiresAt: expiresAt}, nil
}

// FinalizeReport is the input to FinalizeJob, carrying the execution
// worker's report of how a job ended.
type FinalizeReport struct {
	JobID               string
	ExecutionStatus     string // "SUCCESS", "FAILURE", "TIMEOUT", or unrecognized
	ErrorCode           string
	ErrorDescription    string
	ActualBackend       string
	Versions            jobmeta.Versions
	CompileStartedAt    time.Time
	CompileFinishedAt   time.Time
	ExecutionStartedAt  time.Time
	ExecutionFinishedAt time.Time
	RawSizeBytes        int64
	EncodedSizeBytes    int64
}

// FinalizeJob writes the terminal state for a job, tagging its result
// object first when the job completed successfully.
func (m *Manager) FinalizeJob(ctx context.Context, report FinalizeReport) *errs.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizeLocked(ctx, report)
}

func (m *Manager) finalizeLocked(ctx context.Context, report FinalizeReport) *errs.Error {
	meta, err := m.durable.Get(ctx, report.JobID, false)
	if err != nil {
		return m.catalog.Get(string(errs.JobNotFound), map[string]string{"job_id": report.JobID})
	}

	status := mapExecutionStatus(report.ExecutionStatus)
	if status == jobmeta.StatusUnspecified {
		m.logger.Warn("unrecognized execution status at finalize",
			zap.String("job_id", report.JobID), zap.String("execution_status", report.ExecutionStatus))
	}

	if status == jobmeta.StatusCompleted {
		if tagErr := m.blobs.PutResultTags(ctx, report.JobID, blob.ResultTags{
			TokenRole:    meta.Role,
			SaveJob:      meta.SaveJob,
			UploadStatus: "complete",
		}); tagErr != nil {
			m.logger.Error("tagging result object failed", zap.String("job_id", report.JobID), zap.Error(tagErr))
			return m.catalog.Get(string(errs.InternalError), nil)
		}
	}

	now := m.clock.Now()
	updateErr := m.durable.UpdateIfExists(ctx, report.JobID, func(mm *jobmeta.Metadata) {
		mm.Status = status
		mm.StatusCode = report.ErrorCode
		mm.StatusMessage = report.ErrorDescription
		mm.ActualBackendName = report.ActualBackend
		mm.Versions = report.Versions
		mm.CompileStartedAt = report.CompileStartedAt
		mm.CompileFinishedAt = report.CompileFinishedAt
		mm.ExecutionStartedAt = report.ExecutionStartedAt
		mm.ExecutionFinishedAt = report.ExecutionFinishedAt
		mm.RawSizeBytes = report.RawSizeBytes
		mm.EncodedSizeBytes = report.EncodedSizeBytes
		mm.FinishedAt = now
		mm.JobExpiry = now.Add(jobmeta.DefaultJobExpiry)
	})
	if updateErr != nil {
		m.logger.Error("writing terminal update failed", zap.String("job_id", report.JobID), zap.Error(updateErr))
		return m.catalog.Get(string(errs.InternalError), nil)
	}

	meta.Status = status
	m.publish("job."+strings.ToLower(string(status)), meta)
	return nil
}

// CancelJob removes job_id from its queue and marks it CANCELLED. The bool
// reports whether the cancellation actually took effect; it is false with
// an INVALID_JOB_STATE error when the job had already left the queue
// (dispatched, already cancelled, or otherwise terminal).
func (m *Manager) CancelJob(ctx context.Context, jobID string) (bool, *errs.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(ctx, jobID)
}

func (m *Manager) cancelLocked(ctx context.Context, jobID string) (bool, *errs.Error) {
	meta, err := m.durable.Get(ctx, jobID, false)
	if err != nil {
		return false, m.catalog.Get(string(errs.JobNotFound), map[string]string{"job_id": jobID})
	}

	removed := false
	if q, qerr := m.queues.Get(meta.RequestedBackend); qerr == nil {
		removed = q.TryRemove(jobID)
	}
	if !removed {
		return false, m.catalog.Get(string(errs.InvalidJobState), nil)
	}

	if err := m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
		mm.Status = jobmeta.StatusCancelled
	}); err != nil {
		m.logger.Error("writing cancellation failed", zap.String("job_id", jobID), zap.Error(err))
		return false, m.catalog.Get(string(errs.InternalError), nil)
	}

	meta.Status = jobmeta.StatusCancelled
	m.publish("job.cancelled", meta)
	return true, nil
}

// GetJobMetadata fetches a job's current record. It is not guarded by the
// manager lock: it issues a single read with no cross-call invariant to
// protect.
func (m *Manager) GetJobMetadata(ctx context.Context, jobID string, consistent bool) (*jobmeta.Metadata, *errs.Error) {
	meta, err := m.durable.Get(ctx, jobID, consistent)
	if err != nil {
		return nil, m.catalog.Get(string(errs.JobNotFound), map[string]string{"job_id": jobID})
	}
	return meta, nil
}

// recover runs the startup recovery sweep: QUEUED jobs are validated and
// re-pushed preserving their original queued_at; RUNNING jobs are declared
// lost, since the scheduler cannot know whether the physical lab already
// made progress on them.
func (m *Manager) recover(ctx context.Context) error {
	queued, err := m.durable.QueryByStatus(ctx, jobmeta.StatusQueued)
	if err != nil {
		return fmt.Errorf("jobmanager: querying queued jobs at startup: %w", err)
	}
	for _, meta := range queued {
		m.recoverQueuedJob(ctx, meta)
	}

	running, err := m.durable.QueryByStatus(ctx, jobmeta.StatusRunning)
	if err != nil {
		return fmt.Errorf("jobmanager: querying running jobs at startup: %w", err)
	}
	for _, meta := range running {
		jobID := meta.JobID
		sErr := m.catalog.Get(string(errs.CriticalError), nil)
		if failErr := m.durable.UpdateIfStatus(ctx, jobID, jobmeta.StatusRunning, func(mm *jobmeta.Metadata) {
			mm.Status = jobmeta.StatusFailed
			mm.StatusCode = string(sErr.Code)
			mm.StatusMessage = "Job was running when the scheduler restarted and cannot be safely resumed."
		}); failErr != nil {
			// Raced a concurrent finalize between the query and this
			// update; leave whatever the finalize wrote in place.
			m.logger.Info("running job left its RUNNING state before recovery could act", zap.String("job_id", jobID))
		}
	}
	return nil
}

func (m *Manager) recoverQueuedJob(ctx context.Context, meta *jobmeta.Metadata) {
	jobID := meta.JobID

	if !m.queues.Has(meta.RequestedBackend) || meta.QueuedAt.IsZero() {
		sErr := m.catalog.Get(string(errs.CriticalError), nil)
		now := m.clock.Now()
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage, mm.DequeuedAt = jobmeta.StatusFailed, string(sErr.Code), sErr.Message, now
		})
		return
	}

	program, err := m.blobs.DownloadInput(ctx, jobID)
	if err != nil {
		sErr := m.catalog.Get(string(errs.InternalError), nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = jobmeta.StatusFailed, string(sErr.Code), sErr.Message
		})
		return
	}

	q, err := m.queues.Get(meta.RequestedBackend)
	if err != nil {
		sErr := m.catalog.Get(string(errs.CriticalError), nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = jobmeta.StatusFailed, string(sErr.Code), sErr.Message
		})
		return
	}

	pushed, pushErr := q.TryPush(jobID, meta.Token, meta.Role, program, meta.QueuedAt, jobTimeout(meta))
	if pushErr != nil || !pushed {
		sErr := m.catalog.Get(string(errs.ResourceLimitExceeded), nil)
		_ = m.durable.UpdateIfExists(ctx, jobID, func(mm *jobmeta.Metadata) {
			mm.Status, mm.StatusCode, mm.StatusMessage = jobmeta.StatusFailed, string(sErr.Code), sErr.Message
		})
	}
}
