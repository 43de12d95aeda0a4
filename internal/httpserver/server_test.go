package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authpkg "github.com/braincanary/braincanary/internal/auth"
	"github.com/braincanary/braincanary/internal/clock"
	"github.com/braincanary/braincanary/internal/deployment"
	"github.com/braincanary/braincanary/internal/evalquery"
	"github.com/braincanary/braincanary/internal/events"
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/store"
	"github.com/braincanary/braincanary/internal/testutil"
)

const apiToken = "test-token"

const startBody = `{
	"name": "assistant-v2",
	"project": "assistant",
	"baseline": {"model": "m"},
	"canary": {"model": "m", "prompt": "v2"},
	"stages": [
		{"weight": 5, "duration": "10m", "min_samples": 2, "gates": [
			{"scorer": "Q", "threshold": 0.5, "comparison": "not_worse_than_baseline", "confidence": 0.95}
		]},
		{"weight": 100, "min_samples": 1}
	],
	"rollback": {"on_score_drop": 0.1, "on_error_rate": 0.05},
	"monitor": {"poll_interval": "30s", "query": {"api_url": "http://eval.local"}}
}`

type env struct {
	server  *httptest.Server
	store   *store.MemoryStore
	backend *testutil.FakeBackend
	clock   *clock.Manual
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemoryStore()
	bus := events.NewBus()
	clk := clock.NewManual(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	backend := testutil.NewFakeBackend()

	rt, err := deployment.NewRuntime(context.Background(), mem, bus, deployment.Options{
		ClientFactory: func(models.QueryConfig) (evalquery.Client, error) { return backend, nil },
		Clock:         clk,
		ManualPoll:    true,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(rt, mem, authpkg.Config{APIToken: apiToken}).Router())
	t.Cleanup(srv.Close)
	t.Cleanup(rt.Shutdown)
	t.Cleanup(bus.Close)
	return &env{server: srv, store: mem, backend: backend, clock: clk}
}

func (e *env) do(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *env) start(t *testing.T) models.DeploymentSnapshot {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/deployments", startBody, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var snap models.DeploymentSnapshot
	decode(t, resp, &snap)
	return snap
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestStartRequiresAuth(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/deployments", startBody, false)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStartAndActive(t *testing.T) {
	e := newEnv(t)
	snap := e.start(t)
	assert.Equal(t, models.StateStage, snap.State)
	assert.Equal(t, 5, snap.CanaryWeight)

	resp := e.do(t, http.MethodGet, "/v1/deployments/active", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Deployment models.DeploymentSnapshot `json:"deployment"`
		NextAction string                    `json:"next_action"`
	}
	decode(t, resp, &body)
	assert.Equal(t, snap.ID, body.Deployment.ID)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/deployments", `{"name": "x"}`, true)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActiveWithoutDeployment(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/v1/deployments/active", "", false)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouteEndpoint(t *testing.T) {
	e := newEnv(t)
	e.start(t)

	resp := e.do(t, http.MethodGet, "/v1/route?sticky=u1", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first struct {
		Version string `json:"version"`
		Sticky  bool   `json:"sticky"`
	}
	decode(t, resp, &first)
	assert.True(t, first.Sticky)
	assert.Contains(t, []string{"baseline", "canary"}, first.Version)

	// Sticky decisions are stable across calls.
	for i := 0; i < 10; i++ {
		resp := e.do(t, http.MethodGet, "/v1/route?sticky=u1", "", false)
		var again struct {
			Version string `json:"version"`
		}
		decode(t, resp, &again)
		assert.Equal(t, first.Version, again.Version)
	}
}

func TestPauseResumeRollback(t *testing.T) {
	e := newEnv(t)
	snap := e.start(t)

	resp := e.do(t, http.MethodPost, "/v1/deployments/active/pause", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var paused models.DeploymentSnapshot
	decode(t, resp, &paused)
	assert.Equal(t, models.StatePaused, paused.State)

	// Pausing twice is an invalid transition.
	resp = e.do(t, http.MethodPost, "/v1/deployments/active/pause", "", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/deployments/active/resume", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resumed models.DeploymentSnapshot
	decode(t, resp, &resumed)
	assert.Equal(t, models.StateStage, resumed.State)

	resp = e.do(t, http.MethodPost, "/v1/deployments/active/rollback", `{"reason":"bad vibes"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rolled models.DeploymentSnapshot
	decode(t, resp, &rolled)
	assert.Equal(t, models.StateRolledBack, rolled.State)
	assert.Equal(t, "bad vibes", rolled.Reason)

	evResp := e.do(t, http.MethodGet, "/v1/deployments/"+snap.ID+"/events", "", false)
	require.Equal(t, http.StatusOK, evResp.StatusCode)
	var evs []store.EventRecord
	decode(t, evResp, &evs)
	assert.Equal(t, "deployment_complete", evs[0].EventType)
}

func TestPromoteWithoutDataConflicts(t *testing.T) {
	e := newEnv(t)
	e.start(t)

	resp := e.do(t, http.MethodPost, "/v1/deployments/active/promote", "", true)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/deployments/active/promote?force=true", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap models.DeploymentSnapshot
	decode(t, resp, &snap)
	assert.Equal(t, models.StatePromoted, snap.State)
}

func TestListDeployments(t *testing.T) {
	e := newEnv(t)
	e.start(t)

	resp := e.do(t, http.MethodGet, "/v1/deployments?limit=5", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.DeploymentSnapshot
	decode(t, resp, &list)
	require.Len(t, list, 1)
}
