package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/config"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/orchestrator"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

type stubOrchestrator struct {
	actionErr   error
	triggerErr  error
	reloadErr   error
	schedulerUp bool
	lastAction  string
	forceSeen   bool
}

func (s *stubOrchestrator) ListClusterStatuses(_ context.Context, force bool) []types.ClusterView {
	s.forceSeen = force
	return []types.ClusterView{
		{Name: "batch", Status: status.ClusterRunning},
		{Name: "analytics", Status: status.ClusterStopped},
	}
}

func (s *stubOrchestrator) GetClusterStatus(_ context.Context, name string, _ bool) (types.ClusterView, error) {
	if name != "batch" {
		return types.ClusterView{}, fmt.Errorf("%w: %q", orchestrator.ErrClusterNotFound, name)
	}
	return types.ClusterView{Name: "batch", Status: status.ClusterRunning}, nil
}

func (s *stubOrchestrator) RequestClusterAction(_ context.Context, name, action string) (types.ActionResult, error) {
	if s.actionErr != nil {
		return types.ActionResult{}, s.actionErr
	}
	s.lastAction = name + "/" + action
	return types.ActionResult{Cluster: name, Action: action, Accepted: true}, nil
}

func (s *stubOrchestrator) ListScheduledJobs() []types.JobView {
	return []types.JobView{{Cluster: "batch", Direction: "wake_up", CronExpr: "0 8 * * 1-5"}}
}

func (s *stubOrchestrator) TriggerJobNow(_ context.Context, cluster, direction string) (types.ActionResult, error) {
	if s.triggerErr != nil {
		return types.ActionResult{}, s.triggerErr
	}
	return types.ActionResult{Cluster: cluster, Action: direction, Accepted: true}, nil
}

func (s *stubOrchestrator) Reload() error { return s.reloadErr }

func (s *stubOrchestrator) CacheStats() cache.Stats { return cache.Stats{TotalEntries: 2} }

func (s *stubOrchestrator) CacheClear() {}

func (s *stubOrchestrator) Clusters() []types.Cluster {
	return []types.Cluster{{Name: "batch", InstanceIDs: []string{"i-1"}}}
}

func (s *stubOrchestrator) SchedulerRunning() bool { return s.schedulerUp }

func (s *stubOrchestrator) History(context.Context, time.Time) ([]history.Entry, error) {
	return []history.Entry{{Cluster: "batch", Action: "start", Outcome: history.OutcomeCompleted}}, nil
}

func newTestServer(stub *stubOrchestrator) *Server {
	logger := zerolog.Nop()
	cfg := &config.Config{}
	return New(cfg, stub, &logger, nil)
}

func doRequest(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestListClustersEndpoint(t *testing.T) {
	stub := &stubOrchestrator{}
	srv := newTestServer(stub)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/clusters")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	require.NotNil(t, body.Count)
	assert.Equal(t, 2, *body.Count)
	assert.False(t, stub.forceSeen)

	doRequest(t, srv, http.MethodGet, "/api/clusters?refresh=true")
	assert.True(t, stub.forceSeen)
}

func TestGetClusterEndpoint(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/clusters/batch")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	rec, body = doRequest(t, srv, http.MethodGet, "/api/clusters/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "nope")
}

func TestClusterActionEndpoint(t *testing.T) {
	stub := &stubOrchestrator{}
	srv := newTestServer(stub)

	rec, body := doRequest(t, srv, http.MethodPost, "/api/clusters/batch/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, "batch/stop", stub.lastAction)
}

func TestActionErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: %q", orchestrator.ErrClusterNotFound, "x"), http.StatusNotFound},
		{fmt.Errorf("%w: %q", orchestrator.ErrInvalidAction, "reboot"), http.StatusBadRequest},
		{&orchestrator.InvalidTransitionError{Cluster: "x", Action: "start", Status: status.ClusterRunning}, http.StatusConflict},
		{&orchestrator.AlreadyInProgressError{Cluster: "x", Action: "start"}, http.StatusConflict},
		{&orchestrator.ProviderCallError{Cluster: "x", Action: "start", Err: fmt.Errorf("throttled")}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := newTestServer(&stubOrchestrator{actionErr: tc.err})
		rec, body := doRequest(t, srv, http.MethodPost, "/api/clusters/x/start")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.False(t, body.Success)
	}
}

func TestTriggerJobEndpoint(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{})
	rec, body := doRequest(t, srv, http.MethodPost, "/api/scheduler/jobs/batch/wake_up/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, body.Success)

	srv = newTestServer(&stubOrchestrator{
		triggerErr: fmt.Errorf("%w: batch/sideways", orchestrator.ErrJobNotFound),
	})
	rec, _ = doRequest(t, srv, http.MethodPost, "/api/scheduler/jobs/batch/sideways/trigger")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadEndpoint(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{})
	rec, body := doRequest(t, srv, http.MethodPost, "/api/config/reload")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	srv = newTestServer(&stubOrchestrator{reloadErr: fmt.Errorf("parse config: bad yaml")})
	rec, body = doRequest(t, srv, http.MethodPost, "/api/config/reload")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body.Error, "bad yaml")
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/cache/clear")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{})

	rec, body := doRequest(t, srv, http.MethodGet, "/api/history")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, body.Count)
	assert.Equal(t, 1, *body.Count)

	rec, _ = doRequest(t, srv, http.MethodGet, "/api/history?hours=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&stubOrchestrator{schedulerUp: true})
	rec, body := doRequest(t, srv, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	srv = newTestServer(&stubOrchestrator{schedulerUp: false})
	rec, body = doRequest(t, srv, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)
}
