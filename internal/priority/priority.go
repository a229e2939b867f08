package priority

import (
	"math"
	"time"
)

// FairShareFactor returns the fair_share_factor in [0,1] derived from a
// token's current burst score and the configured penalty: 0 when penalty
// <= 0, 1 when the score is at or below the unseen-token baseline of 1,
// and 2^(-(score-1)/penalty) otherwise.
func FairShareFactor(score, penalty float64) float64 {
	if penalty <= 0 {
		return 0
	}
	if score <= 1 {
		return 1
	}
	return math.Exp2(-(score - 1) / penalty)
}

// Priority is the value object attached to every queue entry: an
// immutable base computed once at enqueue time, plus the inputs needed to
// recompute the time-dependent terms at pop time.
type Priority struct {
	Token      string
	Role       string
	QueuedAt   time.Time
	Timeout    time.Duration
	BasePriority float64
}

// New computes a job's Priority at enqueue time. base_priority is fixed for
// the lifetime of the entry; the age and fair-share terms are added back in
// by Total at pop time.
func New(cfg *Config, token, role string, queuedAt time.Time, timeout time.Duration) Priority {
	roleFactor := RoleFactor(role)
	timeoutFactor := TimeoutFactor(timeout, cfg.RoleMaxTimeoutFor(role))
	base := cfg.Weights.Role*roleFactor + cfg.Weights.Timeout*timeoutFactor
	return Priority{
		Token:        token,
		Role:         role,
		QueuedAt:     queuedAt,
		Timeout:      timeout,
		BasePriority: base,
	}
}

// Total computes the full priority at now, combining the precomputed base
// with the time-dependent age and fair-share terms. burstScore is the
// token's current value read from the shared BurstTable.
func (p Priority) Total(cfg *Config, now time.Time, burstScore float64) float64 {
	wait := now.Sub(p.QueuedAt)
	age := AgeFactor(wait, cfg.MaxWaitingTimePerJob)
	fairShare := FairShareFactor(burstScore, cfg.FairSharePenalty)
	return p.BasePriority + cfg.Weights.Age*age + cfg.Weights.FairShare*fairShare
}
