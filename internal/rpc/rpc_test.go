package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/blob"
	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/durable"
	"github.com/mqc3/scheduler/internal/jobmanager"
	"github.com/mqc3/scheduler/internal/paramstore"
	"github.com/mqc3/scheduler/internal/priority"
	"github.com/mqc3/scheduler/internal/queue"
	"github.com/mqc3/scheduler/internal/statusmsg"
	"github.com/mqc3/scheduler/internal/tokenservice"
)

func newTestTokenService(t *testing.T, role string) *tokenservice.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"token_info": map[string]interface{}{
				"role": role, "name": "tester", "expires_at_seconds": 0,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return tokenservice.New(srv.URL, time.Second)
}

func newTestSubmissionServer(t *testing.T, role string) (*httptest.Server, *jobmanager.Manager) {
	t.Helper()
	cfg := priority.DefaultConfig()
	ds := durable.NewMemoryStore()
	bs := blob.NewMemoryStore(nil)
	availDoc := `
[backends.emulator.` + role + `]
status = "available"
description = "ok"
`
	store := paramstore.NewMemoryStore(map[string]string{"backend-status": availDoc})
	view, err := paramstore.New(context.Background(), store, "backend-status", zap.NewNop())
	require.NoError(t, err)

	queues := queue.NewContainer(cfg, queue.ContainerOptions{Backends: []string{"emulator"}, CapacityBytes: 1 << 20})
	mgr, err := jobmanager.New(context.Background(), jobmanager.Deps{
		Durable: ds, Blobs: bs, Queues: queues, Config: cfg,
		Clock: clock.NewMutable(time.Now()), Catalog: statusmsg.Default(), Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	subServer := NewSubmissionServer(mgr, bs, view, statusmsg.Default(), DefaultRoleSizeLimits(), nil, zap.NewNop())
	tokens := newTestTokenService(t, role)
	httpServer := NewSubmissionHTTPServer(ServerConfig{
		ListenAddr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second,
		AllowedOrigins: []string{"*"}, RateLimitRPS: 100, RateLimitBurst: 100,
	}, subServer, tokens, statusmsg.Default(), clock.Real(), zap.NewNop())

	ts := httptest.NewServer(httpServer.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func TestSubmitJobEndToEnd(t *testing.T) {
	ts, _ := newTestSubmissionServer(t, "guest")

	body, _ := json.Marshal(map[string]interface{}{
		"sdk_version": "1.0",
		"job": map[string]interface{}{
			"program": []byte("hello"),
			"settings": map[string]interface{}{
				"backend":         "emulator",
				"n_shots":         100,
				"timeout_seconds": 2,
			},
		},
	})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out submitJobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.JobID)
}

func TestSubmitJobMissingAuthRejected(t *testing.T) {
	ts, _ := newTestSubmissionServer(t, "guest")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs", bytes.NewReader([]byte("{}")))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitJobUnknownBackendRejected(t *testing.T) {
	ts, _ := newTestSubmissionServer(t, "guest")

	body, _ := json.Marshal(map[string]interface{}{
		"job": map[string]interface{}{
			"program":  []byte("hello"),
			"settings": map[string]interface{}{"backend": "nope"},
		},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
