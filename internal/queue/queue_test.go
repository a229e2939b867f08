package queue

import (
	"testing"
	"time"

	"github.com/mqc3/scheduler/internal/priority"
)

func newTestQueue(capacityBytes int64) *Queue {
	cfg := priority.DefaultConfig()
	cfg.MaxJobsToConsider = 3
	cfg.MaxWaitingTimePerJob = 30 * time.Minute
	burst := priority.NewBurstTable(cfg.BurstHalfLife)
	return New(cfg, burst, Options{CapacityBytes: capacityBytes})
}

func TestTryPushDuplicateID(t *testing.T) {
	q := newTestQueue(1 << 20)
	now := time.Unix(0, 0)

	ok, err := q.TryPush("job-1", "tokenA", "guest", []byte("program"), now, time.Second)
	if err != nil || !ok {
		t.Fatalf("first push: ok=%v err=%v", ok, err)
	}

	ok, err = q.TryPush("job-1", "tokenA", "guest", []byte("program"), now, time.Second)
	if err != ErrDuplicateJobID {
		t.Fatalf("second push: expected ErrDuplicateJobID, got ok=%v err=%v", ok, err)
	}
}

func TestTryPushCapacityRefusal(t *testing.T) {
	q := newTestQueue(0)
	ok, err := q.TryPush("job-1", "tokenA", "guest", []byte("x"), time.Unix(0, 0), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected capacity refusal")
	}
}

func TestTryPushQuotaRefusal(t *testing.T) {
	cfg := priority.DefaultConfig()
	burst := priority.NewBurstTable(cfg.BurstHalfLife)
	q := New(cfg, burst, Options{
		CapacityBytes:         1 << 20,
		MaxConcurrentPerToken: map[string]int{"guest": 1},
	})
	now := time.Unix(0, 0)

	ok, _ := q.TryPush("job-1", "tokenA", "guest", []byte("x"), now, time.Second)
	if !ok {
		t.Fatalf("first push under quota should succeed")
	}
	ok, _ = q.TryPush("job-2", "tokenA", "guest", []byte("x"), now, time.Second)
	if ok {
		t.Fatalf("second push should be refused by the per-token quota")
	}
}

func TestByteAndTokenAccountingInvariant(t *testing.T) {
	q := newTestQueue(1 << 20)
	now := time.Unix(0, 0)

	ids := []string{"a", "b", "c"}
	var total int64
	for _, id := range ids {
		program := []byte("payload-" + id)
		ok, err := q.TryPush(id, "tokenA", "guest", program, now, time.Second)
		if err != nil || !ok {
			t.Fatalf("push %s failed: ok=%v err=%v", id, ok, err)
		}
	}
	for _, id := range ids {
		entry := q.entries[id].Value.(*Entry)
		total += entry.Bytes()
	}
	if q.CurrentBytes() != total {
		t.Fatalf("current_bytes=%d want %d", q.CurrentBytes(), total)
	}
	if q.TokenCount("tokenA") != len(ids) {
		t.Fatalf("token count=%d want %d", q.TokenCount("tokenA"), len(ids))
	}

	if !q.TryRemove("b") {
		t.Fatalf("remove should succeed")
	}
	if q.TokenCount("tokenA") != len(ids)-1 {
		t.Fatalf("token count after remove=%d want %d", q.TokenCount("tokenA"), len(ids)-1)
	}
}

func TestTryPopReturnsStarvingJobFirst(t *testing.T) {
	q := newTestQueue(1 << 20)
	base := time.Unix(0, 0)

	// Job "old" queued well before the wait cap; job "new" queued recently
	// but with a high-priority role.
	q.TryPush("old", "tokenA", "guest", []byte("x"), base, time.Minute)
	q.TryPush("new", "tokenB", "admin", []byte("x"), base.Add(29*time.Minute), time.Minute)

	now := base.Add(31 * time.Minute)
	id, _, ok := q.TryPop(now)
	if !ok {
		t.Fatalf("expected a job")
	}
	if id != "old" {
		t.Fatalf("expected starving job 'old' to be popped first, got %q", id)
	}
}

func TestTryPopStarvationAvoidanceScenario(t *testing.T) {
	cfg := priority.DefaultConfig()
	cfg.MaxJobsToConsider = 3
	cfg.MaxWaitingTimePerJob = 30 * time.Minute
	burst := priority.NewBurstTable(cfg.BurstHalfLife)
	q := New(cfg, burst, Options{CapacityBytes: 1 << 20})

	// now = t=1s reference point; queued_at offsets from the spec scenario.
	t1 := time.Unix(1, 0)
	jobs := []struct {
		id       string
		role     string
		token    string
		queuedAt time.Time
		timeout  time.Duration
	}{
		{"admin-20m", "admin", "tok1", t1.Add(-20 * time.Minute), time.Millisecond},
		{"dev-40m-a", "developer", "tok2", t1.Add(-40*time.Minute).Add(-100 * time.Millisecond), 900 * time.Millisecond},
		{"dev-40m-b", "developer", "tok3", t1.Add(-40 * time.Minute), time.Second},
		{"guest-35m", "guest", "tok4", t1.Add(-35 * time.Minute), time.Second},
		{"admin-60m", "admin", "tok5", t1.Add(-60 * time.Minute), time.Second},
	}
	for _, j := range jobs {
		ok, err := q.TryPush(j.id, j.token, j.role, []byte("x"), j.queuedAt, j.timeout)
		if err != nil || !ok {
			t.Fatalf("push %s failed: ok=%v err=%v", j.id, ok, err)
		}
	}

	now := t1
	var order []string
	for q.Len() > 0 {
		id, _, ok := q.TryPop(now)
		if !ok {
			t.Fatalf("expected a job while queue non-empty")
		}
		order = append(order, id)
	}

	if len(order) != len(jobs) {
		t.Fatalf("expected %d pops, got %d", len(jobs), len(order))
	}
	// Every job except admin-20m waited past the 30 minute cap at 'now', so
	// each pop takes the first starving job, in insertion order, among the
	// first max_jobs_to_consider entries. admin-20m never starves and is
	// always outscored by a starving candidate, so it pops last.
	for i := 0; i < len(order)-1; i++ {
		if order[i] == order[i+1] {
			t.Fatalf("duplicate job in pop order: %v", order)
		}
	}
	want := []string{"dev-40m-a", "dev-40m-b", "guest-35m", "admin-60m", "admin-20m"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestTryRemoveAbsentReturnsFalse(t *testing.T) {
	q := newTestQueue(1 << 20)
	if q.TryRemove("nope") {
		t.Fatalf("expected false for absent job")
	}
}

func TestContainerUnifiedMode(t *testing.T) {
	cfg := priority.DefaultConfig()
	c := NewContainer(cfg, ContainerOptions{Backends: []string{"qpu"}, UnifyBackends: true, CapacityBytes: 1 << 20})

	if !c.Has("anything") {
		t.Fatalf("unified container should report every backend as known")
	}
	q1, err := c.Get("qpu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q2, _ := c.Get("emulator")
	if q1 != q2 {
		t.Fatalf("unified container should return the same queue for every backend")
	}
}

func TestContainerNonUnifiedUnknownBackend(t *testing.T) {
	cfg := priority.DefaultConfig()
	c := NewContainer(cfg, ContainerOptions{Backends: []string{"qpu", "emulator"}, CapacityBytes: 1 << 20})

	if c.Has("nope") {
		t.Fatalf("unknown backend should not be reported as known")
	}
	_, err := c.Get("nope")
	var unknown *ErrUnknownBackend
	if err == nil {
		t.Fatalf("expected an error for unknown backend")
	}
	if _, ok := err.(*ErrUnknownBackend); !ok {
		t.Fatalf("expected *ErrUnknownBackend, got %T", err)
	}
	_ = unknown
}
