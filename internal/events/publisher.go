// Package events publishes job lifecycle transitions to a NATS subject for
// any interested external listener (dashboards, audit sinks, downstream
// notifiers). It is grounded on the event-hooks NATS publisher, simplified
// to a best-effort, fire-and-forget publish with no JetStream durability:
// lifecycle notifications are a courtesy, not part of the job's state of
// record, which lives in the durable table.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/jobmeta"
)

// SubjectPrefix is the prefix of the NATS subject job lifecycle events are
// published to, suffixed by event type (e.g. "scheduler.jobs.job.queued").
const SubjectPrefix = "scheduler.jobs."

// Event is the JSON payload published for a job lifecycle transition.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	Backend   string    `json:"requested_backend"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes job lifecycle events over NATS. A nil *Publisher is
// not valid; use Noop() for a no-op implementation instead.
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
	clock  func() time.Time
}

// New connects to natsURL and returns a Publisher. now defaults to
// time.Now when nil.
func New(natsURL string, logger *zap.Logger, now func() time.Time) (*Publisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Publisher{conn: conn, logger: logger, clock: now}, nil
}

// Publish sends eventType for meta. Publish failures are logged, not
// returned: a lifecycle notification is best-effort and must never block
// or fail the job operation that triggered it.
func (p *Publisher) Publish(eventType string, meta *jobmeta.Metadata) {
	if p.isNoop() {
		return
	}
	evt := Event{
		Type:      eventType,
		JobID:     meta.JobID,
		Token:     meta.Token,
		Role:      meta.Role,
		Backend:   meta.RequestedBackend,
		Status:    string(meta.Status),
		Timestamp: p.clock(),
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshaling job lifecycle event", zap.String("job_id", meta.JobID), zap.Error(err))
		return
	}
	if err := p.conn.Publish(SubjectPrefix+eventType, raw); err != nil {
		p.logger.Warn("publishing job lifecycle event", zap.String("job_id", meta.JobID), zap.String("event_type", eventType), zap.Error(err))
	}
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Noop returns a Publisher whose Publish is a no-op, for configurations
// that run without an event bus.
func Noop() *Publisher {
	return &Publisher{logger: zap.NewNop(), clock: time.Now}
}

func (p *Publisher) isNoop() bool { return p.conn == nil }
