// Package queue implements the in-process, per-backend priority job queue
// (the single-backend queue of component C2) and the multi-backend
// container that routes to it (C3). It is grounded on the original
// job_queue module, adapted from the teacher's simple queue.Job envelope
// into an insertion-ordered priority structure.
package queue

import (
	"errors"

	"github.com/mqc3/scheduler/internal/priority"
)

// Fixed per-entry overheads used for capacity accounting, matching the
// "fixed overhead + length(token) + serialized-program size + priority
// overhead" formula in the data model.
const (
	EntryFixedOverheadBytes    = 128
	PriorityOverheadBytes      = 64
)

// ErrDuplicateJobID is the one case try_push fails loudly on: pushing a job
// id that is already present is an invariant violation, not a quota
// refusal.
var ErrDuplicateJobID = errors.New("queue: duplicate job id")

// Entry is the in-memory object held by a Queue for one queued job.
type Entry struct {
	JobID    string
	Token    string
	Role     string
	Program  []byte
	Priority priority.Priority
}

// Bytes is the entry's footprint used for capacity accounting.
func (e Entry) Bytes() int64 {
	return EntryFixedOverheadBytes + int64(len(e.Token)) + int64(len(e.Program)) + PriorityOverheadBytes
}
