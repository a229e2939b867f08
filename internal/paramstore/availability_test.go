package paramstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validDoc = `
[backends.qpu.admin]
status = "available"
description = "fully operational"

[backends.qpu.guest]
status = "maintenance"
description = "scheduled maintenance window"

[backends.emulator.admin]
status = "bogus-status"
description = "unparseable status string"
`

func TestViewConstructionFailsOnMalformedDocument(t *testing.T) {
	store := NewMemoryStore(map[string]string{"backend-status": "not valid toml [[["})
	_, err := New(context.Background(), store, "backend-status", zap.NewNop())
	require.Error(t, err)
}

func TestGetAvailabilityKnownAndUnknown(t *testing.T) {
	store := NewMemoryStore(map[string]string{"backend-status": validDoc})
	view, err := New(context.Background(), store, "backend-status", zap.NewNop())
	require.NoError(t, err)

	entry, err := view.GetAvailability(context.Background(), "qpu", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, entry.Status)

	_, err = view.GetAvailability(context.Background(), "nope", "admin")
	var unknownBackend *ErrUnknownBackend
	require.ErrorAs(t, err, &unknownBackend)

	_, err = view.GetAvailability(context.Background(), "qpu", "nope")
	var unknownRole *ErrUnknownRole
	require.ErrorAs(t, err, &unknownRole)
}

func TestUnknownStatusStringFallsBackToUnavailable(t *testing.T) {
	store := NewMemoryStore(map[string]string{"backend-status": validDoc})
	view, err := New(context.Background(), store, "backend-status", zap.NewNop())
	require.NoError(t, err)

	entry, err := view.GetAvailability(context.Background(), "emulator", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, entry.Status)
}

func TestMissingBackendsTableIsTreatedAsCorrupted(t *testing.T) {
	store := NewMemoryStore(map[string]string{"backend-status": "other_key = 1"})
	view, err := New(context.Background(), store, "backend-status", zap.NewNop())
	require.NoError(t, err)

	entry, err := view.GetAvailability(context.Background(), "qpu", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, entry.Status)
}
