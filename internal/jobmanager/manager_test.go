package jobmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/durable"
	"github.com/mqc3/scheduler/internal/errs"
	"github.com/mqc3/scheduler/internal/jobmeta"
	"github.com/mqc3/scheduler/internal/priority"
	"github.com/mqc3/scheduler/internal/queue"
	"github.com/mqc3/scheduler/internal/statusmsg"
)

func newTestManager(t *testing.T, now time.Time, capacityBytes int64) (*Manager, *clock.Mutable, *durable.MemoryStore, *blob.MemoryStore) {
	t.Helper()
	cfg := priority.DefaultConfig()
	ds := durable.NewMemoryStore()
	bs := blob.NewMemoryStore(nil)
	ck := clock.NewMutable(now)
	queues := queue.NewContainer(cfg, queue.ContainerOptions{
		Backends:      []string{"emulator", "qpu"},
		CapacityBytes: capacityBytes,
	})

	mgr, err := New(context.Background(), Deps{
		Durable: ds,
		Blobs:   bs,
		Queues:  queues,
		Config:  cfg,
		Clock:   ck,
		Catalog: statusmsg.Default(),
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return mgr, ck, ds, bs
}

func TestHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, clock.Tokyo)
	mgr, ck, ds, _ := newTestManager(t, now, 1<<20)

	meta, ferr := mgr.AddJobRequest(context.Background(), AddJobRequest{
		SDKVersion:       "1.0",
		Token:            "tok-guest",
		Role:             "guest",
		RequestedBackend: "emulator",
		MaxElapsedSeconds: 2,
		Program:          []byte("program-bytes"),
	})
	require.Nil(t, ferr)
	require.Equal(t, jobmeta.StatusQueued, meta.Status)

	stored, err := ds.Get(context.Background(), meta.JobID, false)
	require.NoError(t, err)
	assert.Equal(t, jobmeta.StatusQueued, stored.Status)
	assert.False(t, stored.QueuedAt.Before(now))

	assign, aerr := mgr.FetchNextJobToExecute(context.Background(), "emulator")
	require.Nil(t, aerr)
	require.NotNil(t, assign)
	assert.Equal(t, meta.JobID, assign.JobID)
	assert.NotEmpty(t, assign.UploadURL)

	stored, err = ds.Get(context.Background(), meta.JobID, false)
	require.NoError(t, err)
	assert.Equal(t, jobmeta.StatusRunning, stored.Status)

	ck.Advance(5 * time.Second)
	ferr2 := mgr.FinalizeJob(context.Background(), FinalizeReport{
		JobID:           meta.JobID,
		ExecutionStatus: "SUCCESS",
	})
	require.Nil(t, ferr2)

	stored, err = ds.Get(context.Background(), meta.JobID, false)
	require.NoError(t, err)
	assert.Equal(t, jobmeta.StatusCompleted, stored.Status)
	assert.True(t, stored.JobExpiry.Equal(stored.FinishedAt.Add(jobmeta.DefaultJobExpiry)))
}

func TestQueueFullResourceLimitExceeded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, clock.Tokyo)
	mgr, _, _, _ := newTestManager(t, now, 0)

	meta, ferr := mgr.AddJobRequest(context.Background(), AddJobRequest{
		Token: "tok", Role: "guest", RequestedBackend: "emulator", Program: []byte("x"),
	})
	require.NotNil(t, ferr)
	assert.Equal(t, jobmeta.StatusFailed, meta.Status)
	assert.Equal(t, errs.CodeResourceExhausted, ferr.Code)
	assert.Contains(t, ferr.Message, "The job was not accepted")
}

func TestUnknownBackendInvalidRequest(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, clock.Tokyo)
	mgr, _, _, _ := newTestManager(t, now, 1<<20)

	meta, ferr := mgr.AddJobRequest(context.Background(), AddJobRequest{
		Token: "tok", Role: "guest", RequestedBackend: "nope", Program: []byte("x"),
	})
	require.NotNil(t, ferr)
	assert.Equal(t, jobmeta.StatusFailed, meta.Status)
	assert.Equal(t, errs.CodeInvalidArgument, ferr.Code)
	assert.Contains(t, ferr.Message, "nope is not a supported backend.")
}

func TestCancelBeforeDispatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, clock.Tokyo)
	mgr, _, _, _ := newTestManager(t, now, 1<<20)

	meta, ferr := mgr.AddJobRequest(context.Background(), AddJobRequest{
		Token: "tok", Role: "guest", RequestedBackend: "emulator", Program: []byte("x"),
	})
	require.Nil(t, ferr)

	ok, cerr := mgr.CancelJob(context.Background(), meta.JobID)
	require.True(t, ok)
	require.Nil(t, cerr)

	ok, cerr = mgr.CancelJob(context.Background(), meta.JobID)
	require.False(t, ok)
	require.NotNil(t, cerr)
	assert.Equal(t, errs.CodeFailedPrecondition, cerr.Code)
	assert.Equal(t, "The job can no longer be cancelled.", cerr.Message)

	assign, aerr := mgr.FetchNextJobToExecute(context.Background(), "emulator")
	require.Nil(t, aerr)
	assert.Nil(t, assign)
}

func TestRecoveryRequeuesQueuedAndFailsRunning(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, clock.Tokyo)
	cfg := priority.DefaultConfig()
	ds := durable.NewMemoryStore()
	bs := blob.NewMemoryStore(func() time.Time { return now })

	queuedJob := jobmeta.New("job-queued", "1.0", "tok-a", "guest", "emulator", 100, 2, false, jobmeta.StateSaveNone, 0, now.Add(-time.Hour))
	queuedJob.Status = jobmeta.StatusQueued
	queuedJob.QueuedAt = now.Add(-time.Hour)
	require.NoError(t, ds.PutIfAbsent(ctx, queuedJob))
	require.NoError(t, bs.UploadInput(ctx, "job-queued", []byte("payload")))

	runningJob := jobmeta.New("job-running", "1.0", "tok-b", "admin", "qpu", 100, 2, false, jobmeta.StateSaveNone, 0, now.Add(-2*time.Hour))
	runningJob.Status = jobmeta.StatusRunning
	runningJob.QueuedAt = now.Add(-2 * time.Hour)
	runningJob.DequeuedAt = now.Add(-90 * time.Minute)
	require.NoError(t, ds.PutIfAbsent(ctx, runningJob))

	queues := queue.NewContainer(cfg, queue.ContainerOptions{Backends: []string{"emulator", "qpu"}, CapacityBytes: 1 << 20})

	mgr, err := New(ctx, Deps{
		Durable: ds, Blobs: bs, Queues: queues, Config: cfg,
		Clock: clock.NewMutable(now), Catalog: statusmsg.Default(), Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	_ = mgr

	q, err := queues.Get("emulator")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	stored, err := ds.Get(ctx, "job-running", false)
	require.NoError(t, err)
	assert.Equal(t, jobmeta.StatusFailed, stored.Status)

	stored, err = ds.Get(ctx, "job-queued", false)
	require.NoError(t, err)
	assert.Equal(t, jobmeta.StatusQueued, stored.Status)
	assert.True(t, stored.QueuedAt.Equal(now.Add(-time.Hour)))
}
