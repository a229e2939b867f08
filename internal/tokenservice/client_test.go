package tokenservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(srv.URL, 2*time.Second)
	return c, srv.Close
}

func TestGetTokenInfoOK(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenInfoResponse{
			Status: string(StatusOK),
			TokenInfo: &struct {
				Role             string `json:"role"`
				Name             string `json:"name"`
				ExpiresAtSeconds int64  `json:"expires_at_seconds"`
			}{Role: "admin", Name: "alice", ExpiresAtSeconds: 0},
		})
	})
	defer closeFn()

	info, err := c.GetTokenInfo(context.Background(), "tok-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "admin", info.Role)
	assert.True(t, info.ExpiresAt.IsZero())
	assert.False(t, info.IsExpired(time.Now()))
}

func TestGetTokenInfoNotFound(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenInfoResponse{Status: string(StatusNotFound)})
	})
	defer closeFn()

	info, err := c.GetTokenInfo(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetTokenInfoUnspecifiedWrapsAsError(t *testing.T) {
	c, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenInfoResponse{Status: string(StatusUnspecified), Detail: "backend down"})
	})
	defer closeFn()

	_, err := c.GetTokenInfo(context.Background(), "tok-2")
	require.Error(t, err)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Detail, "backend down")
}

func TestTokenExpiryComparedInTokyo(t *testing.T) {
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := Info{ExpiresAt: past}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, info.IsExpired(now))
	assert.False(t, info.IsExpired(past.Add(-time.Hour)))
}
