package queue

import (
	"fmt"

	"github.com/mqc3/scheduler/internal/priority"
)

// unifiedBackendKey is the queue name used for every lookup when a
// Container is constructed with UnifyBackends set.
const unifiedBackendKey = "all"

// ErrUnknownBackend is returned when indexing a non-unified Container by a
// backend name it was not constructed with.
type ErrUnknownBackend struct{ Backend string }

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("queue: unknown backend %q", e.Backend)
}

// Container routes operations to a per-backend Queue, or to a single
// unified queue shared by every backend, per component C3.
type Container struct {
	unify   bool
	queues  map[string]*Queue
	backends map[string]struct{}
}

// ContainerOptions configures a new Container.
type ContainerOptions struct {
	Backends       []string
	UnifyBackends  bool
	CapacityBytes  int64
	MaxConcurrentPerToken map[string]int
}

// NewContainer builds one Queue per backend (or a single "all" queue if
// UnifyBackends is set), all sharing cfg and a process-wide burst table.
func NewContainer(cfg *priority.Config, opts ContainerOptions) *Container {
	burst := priority.NewBurstTable(cfg.BurstHalfLife)
	qopts := Options{CapacityBytes: opts.CapacityBytes, MaxConcurrentPerToken: opts.MaxConcurrentPerToken}

	c := &Container{
		unify:    opts.UnifyBackends,
		queues:   make(map[string]*Queue),
		backends: make(map[string]struct{}),
	}

	if opts.UnifyBackends {
		c.queues[unifiedBackendKey] = New(cfg, burst, qopts)
	} else {
		for _, b := range opts.Backends {
			c.queues[b] = New(cfg, burst, qopts)
		}
	}
	for _, b := range opts.Backends {
		c.backends[b] = struct{}{}
	}
	return c
}

// Get returns the Queue backing backend, or an *ErrUnknownBackend if
// backend is not known and the container is not unified.
func (c *Container) Get(backend string) (*Queue, error) {
	if c.unify {
		return c.queues[unifiedBackendKey], nil
	}
	q, ok := c.queues[backend]
	if !ok {
		return nil, &ErrUnknownBackend{Backend: backend}
	}
	return q, nil
}

// Has reports whether backend is known. In unified mode every backend name
// is considered known.
func (c *Container) Has(backend string) bool {
	if c.unify {
		return true
	}
	_, ok := c.backends[backend]
	return ok
}

// Backends returns the configured backend names (not meaningful in unified
// mode beyond membership testing).
func (c *Container) Backends() []string {
	out := make([]string, 0, len(c.backends))
	for b := range c.backends {
		out = append(out, b)
	}
	return out
}

// Burst returns the burst table shared by every queue in this container,
// for the burst-eviction cron job. Every queue in a Container shares one
// table (see NewContainer), so any queue's accessor will do.
func (c *Container) Burst() *priority.BurstTable {
	for _, q := range c.queues {
		return q.Burst()
	}
	return nil
}
