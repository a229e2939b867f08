package jobmeta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemRoundTrip(t *testing.T) {
	submitted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New("job-123", "sdk-1.0", "tok-A", "admin", "qpu", 1024, 2.5, true, StateSaveAll, 0.25, submitted)
	m.Status = StatusRunning
	m.DequeuedAt = submitted.Add(time.Minute)
	m.Versions = Versions{PhysicalLab: "1", QuantumComputer: "2", Scheduler: "3", Simulator: "4"}

	item := m.ToItem()
	round, err := FromItem(item)
	require.NoError(t, err)

	assert.Equal(t, m.JobID, round.JobID)
	assert.Equal(t, m.Token, round.Token)
	assert.Equal(t, m.Role, round.Role)
	assert.Equal(t, m.RequestedBackend, round.RequestedBackend)
	assert.Equal(t, m.NShots, round.NShots)
	assert.Equal(t, m.SaveJob, round.SaveJob)
	assert.Equal(t, m.StateSavePolicy, round.StateSavePolicy)
	assert.Equal(t, m.Status, round.Status)
	assert.WithinDuration(t, m.SubmittedAt, round.SubmittedAt, time.Millisecond)
	assert.WithinDuration(t, m.DequeuedAt, round.DequeuedAt, time.Millisecond)
	assert.WithinDuration(t, m.JobExpiry, round.JobExpiry, time.Millisecond)
	assert.Equal(t, m.Versions, round.Versions)
}

func TestNewSetsJobExpiryThirtyDaysOut(t *testing.T) {
	submitted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New("job-1", "sdk", "tok", "guest", "emulator", 1, 1, false, StateSaveNone, 0, submitted)
	assert.Equal(t, submitted.Add(DefaultJobExpiry), m.JobExpiry)
	assert.False(t, m.Status.IsTerminal())
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout} {
		assert.Truef(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range []Status{StatusUnspecified, StatusQueued, StatusRunning} {
		assert.Falsef(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
