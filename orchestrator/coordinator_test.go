package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

// fakeGateway simulates a provider whose instances immediately assume the
// requested state, unless frozen or failing.
type fakeGateway struct {
	mu       sync.Mutex
	statuses map[string]string
	// frozen stops start/stop from changing instance state, simulating a
	// slow provider.
	frozen   bool
	startErr error
	stopErr  error
}

func newFakeGateway(state string, ids ...string) *fakeGateway {
	statuses := make(map[string]string)
	for _, id := range ids {
		statuses[id] = state
	}
	return &fakeGateway{statuses: statuses}
}

func (f *fakeGateway) DescribeInstances(ctx context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if s, ok := f.statuses[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeGateway) StartInstances(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if !f.frozen {
		for _, id := range ids {
			f.statuses[id] = "running"
		}
	}
	return nil
}

func (f *fakeGateway) StopInstances(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	if !f.frozen {
		for _, id := range ids {
			f.statuses[id] = "stopped"
		}
	}
	return nil
}

func (f *fakeGateway) freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

var batchCluster = types.Cluster{
	Name:        "batch",
	InstanceIDs: []string{"i-1", "i-2"},
	Enabled:     true,
}

func newTestCoordinator(gw *fakeGateway) *Coordinator {
	logger := zerolog.Nop()
	statusCache := cache.New(gw, cache.Config{
		TTL:             time.Millisecond, // near-passthrough for tests
		ProviderTimeout: time.Second,
	}, &logger)
	return NewCoordinator(gw, statusCache, history.Nop{}, CoordinatorConfig{
		ProviderTimeout: time.Second,
		PollInterval:    10 * time.Millisecond,
		MaxRetries:      5,
	}, &logger, nil)
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.InflightCount() == 0
	}, 3*time.Second, 5*time.Millisecond, "in-flight marker was not cleared")
}

func TestRequestActionRejectsUnknownKind(t *testing.T) {
	c := newTestCoordinator(newFakeGateway("running", "i-1", "i-2"))

	_, err := c.RequestAction(context.Background(), batchCluster, Action("reboot"))
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestRequestActionValidityTable(t *testing.T) {
	cases := []struct {
		state   string
		action  Action
		allowed bool
	}{
		{"running", ActionStop, true},
		{"running", ActionStart, false},
		{"stopped", ActionStart, true},
		{"stopped", ActionStop, false},
		{"build", ActionStart, false},
		{"build", ActionStop, false},
	}

	for _, tc := range cases {
		gw := newFakeGateway(tc.state, "i-1", "i-2")
		c := newTestCoordinator(gw)

		res, err := c.RequestAction(context.Background(), batchCluster, tc.action)
		if tc.allowed {
			require.NoError(t, err, "%s while %s", tc.action, tc.state)
			assert.True(t, res.Accepted)
			waitIdle(t, c)
		} else {
			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite, "%s while %s", tc.action, tc.state)
			assert.Equal(t, tc.action, ite.Action)
		}
	}
}

func TestRequestActionPartialAllowsBoth(t *testing.T) {
	gw := newFakeGateway("running", "i-1")
	gw.statuses["i-2"] = "stopped"
	c := newTestCoordinator(gw)

	res, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	waitIdle(t, c)
}

func TestConcurrentSameActionAcceptedOnce(t *testing.T) {
	const contenders = 16

	gw := newFakeGateway("stopped", "i-1", "i-2")
	gw.freeze() // hold the monitor open so every other request races an in-flight one
	c := newTestCoordinator(gw)

	type outcome struct {
		res types.ActionResult
		err error
	}
	results := make(chan outcome, contenders)
	start := make(chan struct{})

	for i := 0; i < contenders; i++ {
		go func() {
			<-start
			res, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
			results <- outcome{res, err}
		}()
	}
	close(start)

	var accepted, rejected int
	for i := 0; i < contenders; i++ {
		o := <-results
		if o.err == nil {
			accepted++
			assert.True(t, o.res.Accepted)
		} else {
			var aip *AlreadyInProgressError
			require.ErrorAs(t, o.err, &aip)
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, contenders-1, rejected)

	waitIdle(t, c)
}

func TestStopThenStopRejectedThenStartAccepted(t *testing.T) {
	gw := newFakeGateway("running", "i-1", "i-2")
	c := newTestCoordinator(gw)

	res, err := c.RequestAction(context.Background(), batchCluster, ActionStop)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	waitIdle(t, c)

	// The cluster converged to stopped: another stop is now illegal.
	_, err = c.RequestAction(context.Background(), batchCluster, ActionStop)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, status.ClusterStopped, ite.Status)

	res, err = c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	waitIdle(t, c)
}

func TestProviderFailureClearsInflight(t *testing.T) {
	gw := newFakeGateway("stopped", "i-1", "i-2")
	gw.startErr = errors.New("throttled")
	c := newTestCoordinator(gw)

	_, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
	var pce *ProviderCallError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, float64(0), c.InflightCount())

	// The guard is free again: fixing the provider makes the next request go through.
	gw.mu.Lock()
	gw.startErr = nil
	gw.mu.Unlock()

	res, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	waitIdle(t, c)
}

func TestMonitorTimeoutClearsInflight(t *testing.T) {
	gw := newFakeGateway("stopped", "i-1", "i-2")
	gw.freeze() // instances never leave stopped; the monitor must give up
	c := newTestCoordinator(gw)

	res, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	waitIdle(t, c)

	// Retry budget exhausted, marker cleared, a new request is accepted.
	res, err = c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	waitIdle(t, c)
}

func TestStopCancelsMonitors(t *testing.T) {
	gw := newFakeGateway("stopped", "i-1", "i-2")
	gw.freeze()
	c := newTestCoordinator(gw)

	_, err := c.RequestAction(context.Background(), batchCluster, ActionStart)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
