package queue

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/mqc3/scheduler/internal/priority"
)

// Queue is a single backend's bounded, insertion-ordered priority queue. It
// implements the hybrid FIFO-bounded-priority selector described in
// component C2: pop first checks the oldest candidates for starvation,
// falling back to highest total priority among them.
type Queue struct {
	mu sync.Mutex

	cfg   *priority.Config
	burst *priority.BurstTable

	capacityBytes int64
	currentBytes  int64

	order   *list.List               // insertion order of job IDs
	entries map[string]*list.Element // jobID -> element holding *Entry
	tokens  map[string]int           // token -> live entry count

	// maxConcurrentPerToken, keyed by lower-cased role, caps how many live
	// entries a single token may hold while submitting under that role. A
	// role absent from the map has no cap.
	maxConcurrentPerToken map[string]int
}

// Options configures a new Queue.
type Options struct {
	CapacityBytes         int64
	MaxConcurrentPerToken map[string]int
}

// New constructs an empty Queue sharing cfg and burst with every other
// queue in the container.
func New(cfg *priority.Config, burst *priority.BurstTable, opts Options) *Queue {
	return &Queue{
		cfg:                   cfg,
		burst:                 burst,
		capacityBytes:         opts.CapacityBytes,
		order:                 list.New(),
		entries:               make(map[string]*list.Element),
		tokens:                make(map[string]int),
		maxConcurrentPerToken: opts.MaxConcurrentPerToken,
	}
}

// Burst returns the burst table this queue scores against, shared by
// every queue in the same container, for the burst-eviction cron job.
func (q *Queue) Burst() *priority.BurstTable { return q.burst }

// TryPush attempts to enqueue a job. It returns (true, nil) on success,
// (false, nil) on a first-class refusal (quota or capacity), and a non-nil
// error only for the duplicate-id invariant violation.
func (q *Queue) TryPush(jobID, token, role string, program []byte, queuedAt time.Time, timeout time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[jobID]; exists {
		return false, ErrDuplicateJobID
	}

	if cap, ok := q.maxConcurrentPerToken[normalizeRole(role)]; ok && q.tokens[token] >= cap {
		return false, nil
	}

	entry := Entry{
		JobID:    jobID,
		Token:    token,
		Role:     role,
		Program:  program,
		Priority: priority.New(q.cfg, token, role, queuedAt, timeout),
	}
	size := entry.Bytes()
	if q.currentBytes+size > q.capacityBytes {
		return false, nil
	}

	q.burst.Update(token, queuedAt)

	elem := q.order.PushBack(&entry)
	q.entries[jobID] = elem
	q.currentBytes += size
	q.tokens[token]++
	return true, nil
}

// TryPop implements the candidate-set selector: the oldest
// MaxJobsToConsider entries are scanned for the earliest one that has
// waited longer than MaxWaitingTimePerJob; if none has starved, the
// candidate with the highest total priority (ties won by earlier
// insertion) is popped.
func (q *Queue) TryPop(now time.Time) (jobID string, program []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.order.Len() == 0 {
		return "", nil, false
	}

	k := q.cfg.MaxJobsToConsider
	if k > q.order.Len() {
		k = q.order.Len()
	}

	var candidates []*list.Element
	elem := q.order.Front()
	for i := 0; i < k && elem != nil; i++ {
		candidates = append(candidates, elem)
		elem = elem.Next()
	}

	var starving *list.Element
	for _, c := range candidates {
		e := c.Value.(*Entry)
		if now.Sub(e.Priority.QueuedAt) > q.cfg.MaxWaitingTimePerJob {
			starving = c
			break
		}
	}

	chosen := starving
	if chosen == nil {
		var best *list.Element
		bestScore := 0.0
		for _, c := range candidates {
			e := c.Value.(*Entry)
			score := e.Priority.Total(q.cfg, now, q.burst.Get(e.Token))
			if best == nil || score > bestScore {
				best = c
				bestScore = score
			}
		}
		chosen = best
	}

	entry := chosen.Value.(*Entry)
	q.removeElement(chosen)
	return entry.JobID, entry.Program, true
}

// TryRemove removes jobID in O(1) if present. Returns false if absent.
func (q *Queue) TryRemove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	elem, ok := q.entries[jobID]
	if !ok {
		return false
	}
	q.removeElement(elem)
	return true
}

// removeElement must be called with q.mu held.
func (q *Queue) removeElement(elem *list.Element) {
	entry := elem.Value.(*Entry)
	q.order.Remove(elem)
	delete(q.entries, entry.JobID)
	q.currentBytes -= entry.Bytes()

	q.tokens[entry.Token]--
	if q.tokens[entry.Token] <= 0 {
		delete(q.tokens, entry.Token)
	}
}

// Len reports the number of live entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// CurrentBytes reports the current byte accounting, for tests and metrics.
func (q *Queue) CurrentBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentBytes
}

// TokenCount reports the live entry count for token, for tests and quota
// enforcement checks.
func (q *Queue) TokenCount(token string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tokens[token]
}

func normalizeRole(role string) string {
	return strings.ToLower(role)
}
