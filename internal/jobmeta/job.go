// Package jobmeta defines the durable job record and its conversion to and
// from the typed-attribute shape the durable table stores it as. It is
// grounded on the original job_metadata module, including its
// type-directed (de)serialization discipline.
package jobmeta

import "time"

// Status is the job's lifecycle state.
type Status string

const (
	StatusUnspecified Status = "UNSPECIFIED"
	StatusQueued      Status = "QUEUED"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
	StatusTimeout     Status = "TIMEOUT"
)

// IsTerminal reports whether s is one of the sticky terminal states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// StateSavePolicy controls how much intermediate state the simulator keeps.
type StateSavePolicy string

const (
	StateSaveUnspecified StateSavePolicy = "UNSPECIFIED"
	StateSaveAll         StateSavePolicy = "ALL"
	StateSaveFirstOnly   StateSavePolicy = "FIRST_ONLY"
	StateSaveNone        StateSavePolicy = "NONE"
)

// Versions is the version quartet reported at finalize time.
type Versions struct {
	PhysicalLab     string
	QuantumComputer string
	Scheduler       string
	Simulator       string
}

// Metadata is the full durable record for one job.
type Metadata struct {
	// Immutable at submission.
	JobID                  string
	SDKVersion             string
	Token                  string
	Role                   string
	RequestedBackend       string
	NShots                 int64
	MaxElapsedSeconds      float64
	SaveJob                bool
	StateSavePolicy        StateSavePolicy
	ResourceSqueezingLevel float64

	// Mutable.
	Status             Status
	StatusCode         string
	StatusMessage      string
	ActualBackendName  string
	RawSizeBytes       int64
	EncodedSizeBytes   int64
	Versions           Versions

	SubmittedAt          time.Time
	QueuedAt             time.Time
	DequeuedAt           time.Time
	CompileStartedAt     time.Time
	CompileFinishedAt    time.Time
	ExecutionStartedAt   time.Time
	ExecutionFinishedAt  time.Time
	FinishedAt           time.Time
	JobExpiry            time.Time
}

// DefaultJobExpiry is the TTL applied at submission and refreshed at
// finalize.
const DefaultJobExpiry = 30 * 24 * time.Hour

// New builds the initial metadata for a freshly-submitted job. submittedAt
// is the clock reading at construction; job_expiry defaults to
// submittedAt + 30 days per the data model invariants.
func New(jobID, sdkVersion, token, role, backend string, nShots int64, maxElapsedSeconds float64, saveJob bool, policy StateSavePolicy, squeezing float64, submittedAt time.Time) *Metadata {
	return &Metadata{
		JobID:                  jobID,
		SDKVersion:             sdkVersion,
		Token:                  token,
		Role:                   role,
		RequestedBackend:       backend,
		NShots:                 nShots,
		MaxElapsedSeconds:      maxElapsedSeconds,
		SaveJob:                saveJob,
		StateSavePolicy:        policy,
		ResourceSqueezingLevel: squeezing,
		Status:                 StatusUnspecified,
		SubmittedAt:            submittedAt,
		JobExpiry:              submittedAt.Add(DefaultJobExpiry),
	}
}
