// Package durable defines the durable job table collaborator (§6) and a
// DynamoDB-backed implementation, grounded on the original dynamodb_helper
// module and shaped after the teacher's storage-backends QueueBackend
// interface convention.
package durable

import (
	"context"
	"errors"

	"github.com/mqc3/scheduler/internal/jobmeta"
)

// ErrNotFound is returned by Get when job_id has no record.
var ErrNotFound = errors.New("durable: job not found")

// ErrAlreadyExists is returned by PutIfAbsent when job_id is already
// present, mirroring the original's ConditionalCheckFailedException
// translation.
var ErrAlreadyExists = errors.New("durable: job already exists")

// ErrConditionFailed is returned by the conditional updates when their
// precondition (existence, or a specific expected status) does not hold.
var ErrConditionFailed = errors.New("durable: condition failed")

// Store is the durable metadata table collaborator: key-value by job_id
// with a secondary index on status.
type Store interface {
	// EnsureTableExists is called once at JobManager construction; a
	// missing table is fatal at startup, matching the original's
	// RuntimeError on a missing table.
	EnsureTableExists(ctx context.Context) error

	// PutIfAbsent writes m conditionally on job_id not already existing.
	PutIfAbsent(ctx context.Context, m *jobmeta.Metadata) error

	// Get fetches a job by id. consistent requests a strongly-consistent
	// read where the backend supports the distinction.
	Get(ctx context.Context, jobID string, consistent bool) (*jobmeta.Metadata, error)

	// QueryByStatus returns every record currently at status, via the
	// status-indexed secondary view, paginating internally.
	QueryByStatus(ctx context.Context, status jobmeta.Status) ([]*jobmeta.Metadata, error)

	// UpdateIfExists applies mutate to the current record and persists the
	// result, conditional on job_id existing. mutate receives the
	// just-read record and edits it in place; the edited record is written
	// back.
	UpdateIfExists(ctx context.Context, jobID string, mutate func(*jobmeta.Metadata)) error

	// UpdateIfStatus behaves like UpdateIfExists but additionally requires
	// the stored status to equal expected at write time, guarding against
	// a race with a concurrent finalize.
	UpdateIfStatus(ctx context.Context, jobID string, expected jobmeta.Status, mutate func(*jobmeta.Metadata)) error

	// Remove deletes a record outright. Used only by best-effort rollback
	// paths; the common path for leaving the job system is a terminal
	// status update, not deletion.
	Remove(ctx context.Context, jobID string) error
}
