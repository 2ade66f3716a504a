package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]InstanceState{
		"ACTIVE":        InstanceRunning,
		"active":        InstanceRunning,
		"running":       InstanceRunning,
		"SHUTOFF":       InstanceStopped,
		"suspended":     InstanceStopped,
		"paused":        InstanceStopped,
		"shelved":       InstanceStopped,
		"terminated":    InstanceStopped,
		"BUILD":         InstanceStarting,
		"pending":       InstanceStarting,
		"resize":        InstanceStarting,
		"rebuild":       InstanceStarting,
		"migrating":     InstanceStarting,
		"stopping":      InstanceStopping,
		"shutting-down": InstanceStopping,
		"REBOOT":        InstanceRebooting,
		"hard_reboot":   InstanceRebooting,
		"ERROR":         InstanceError,
		"wibble":        InstanceUnknown,
		"":              InstanceUnknown,
	}

	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw status %q", raw)
	}
}

func TestReduceErrorWins(t *testing.T) {
	// An errored instance dominates regardless of what the rest are doing.
	sets := [][]InstanceState{
		{InstanceError},
		{InstanceRunning, InstanceError},
		{InstanceError, InstanceStopped},
		{InstanceStarting, InstanceError, InstanceRunning},
		{InstanceError, InstanceRebooting, InstanceUnknown},
	}
	for _, set := range sets {
		assert.Equal(t, ClusterError, Reduce(set), "set %v", set)
	}
}

func TestReduceTransitional(t *testing.T) {
	sets := [][]InstanceState{
		{InstanceStarting},
		{InstanceRunning, InstanceStopping},
		{InstanceRebooting, InstanceStopped},
		{InstanceStarting, InstanceStopping},
	}
	for _, set := range sets {
		assert.Equal(t, ClusterTransitioning, Reduce(set), "set %v", set)
	}
}

func TestReduceUniform(t *testing.T) {
	assert.Equal(t, ClusterRunning, Reduce([]InstanceState{InstanceRunning}))
	assert.Equal(t, ClusterRunning, Reduce([]InstanceState{InstanceRunning, InstanceRunning, InstanceRunning}))
	assert.Equal(t, ClusterStopped, Reduce([]InstanceState{InstanceStopped, InstanceStopped}))
}

func TestReduceMixedIsPartial(t *testing.T) {
	assert.Equal(t, ClusterPartial, Reduce([]InstanceState{InstanceRunning, InstanceStopped}))
	assert.Equal(t, ClusterPartial, Reduce([]InstanceState{InstanceRunning, InstanceUnknown}))
	assert.Equal(t, ClusterPartial, Reduce([]InstanceState{InstanceUnknown, InstanceUnknown}))
}

func TestReduceEmptyIsUnknown(t *testing.T) {
	assert.Equal(t, ClusterUnknown, Reduce(nil))
	assert.Equal(t, ClusterUnknown, Reduce([]InstanceState{}))
}

func TestReduceIsDeterministic(t *testing.T) {
	set := []InstanceState{InstanceRunning, InstanceStopped, InstanceStarting}
	first := Reduce(set)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Reduce(set))
	}
}

func TestReconcile(t *testing.T) {
	now := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	raw := map[string]string{
		"i-1": "ACTIVE",
		"i-2": "SHUTOFF",
	}

	snap := Reconcile("batch", []string{"i-1", "i-2", "i-3"}, raw, now)

	assert.Equal(t, "batch", snap.Cluster)
	assert.Equal(t, ClusterPartial, snap.Status)
	assert.Len(t, snap.Instances, 3)
	assert.Equal(t, InstanceRunning, snap.Instances[0].State)
	assert.Equal(t, InstanceStopped, snap.Instances[1].State)
	// i-3 missing from the provider answer.
	assert.Equal(t, InstanceUnknown, snap.Instances[2].State)
	assert.Equal(t, now, snap.CapturedAt)
	assert.Empty(t, snap.Error)
}

func TestErrorSnapshot(t *testing.T) {
	now := time.Now()
	snap := ErrorSnapshot("batch", []string{"i-1"}, now, errors.New("connection refused"))

	assert.Equal(t, ClusterError, snap.Status)
	assert.Equal(t, "connection refused", snap.Error)
	assert.Len(t, snap.Instances, 1)
	assert.Equal(t, InstanceUnknown, snap.Instances[0].State)
}
