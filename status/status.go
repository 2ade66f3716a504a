package status

import (
	"strings"
	"time"
)

// InstanceState is the normalized power state of a single instance.
type InstanceState string

const (
	InstanceRunning   InstanceState = "running"
	InstanceStopped   InstanceState = "stopped"
	InstanceStarting  InstanceState = "starting"
	InstanceStopping  InstanceState = "stopping"
	InstanceRebooting InstanceState = "rebooting"
	InstanceError     InstanceState = "error"
	InstanceUnknown   InstanceState = "unknown"
)

// ClusterStatus is the single aggregate status derived from all instance
// states of a cluster.
type ClusterStatus string

const (
	ClusterRunning       ClusterStatus = "running"
	ClusterStopped       ClusterStatus = "stopped"
	ClusterStarting      ClusterStatus = "starting"
	ClusterStopping      ClusterStatus = "stopping"
	ClusterTransitioning ClusterStatus = "transitioning"
	ClusterPartial       ClusterStatus = "partial"
	ClusterError         ClusterStatus = "error"
	ClusterUnknown       ClusterStatus = "unknown"
)

// Normalize maps a raw provider status string onto the fixed normalized set.
// Unrecognized statuses map to InstanceUnknown.
func Normalize(raw string) InstanceState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "running", "available":
		return InstanceRunning
	case "shutoff", "stopped", "suspended", "paused", "shelved", "shelved_offloaded", "terminated":
		return InstanceStopped
	case "build", "pending", "starting", "resize", "rebuild", "migrating", "powering_on", "verify_resize":
		return InstanceStarting
	case "stopping", "shutting-down", "powering_off":
		return InstanceStopping
	case "reboot", "hard_reboot", "rebooting":
		return InstanceRebooting
	case "error":
		return InstanceError
	default:
		return InstanceUnknown
	}
}

// IsTransitional reports whether a normalized state is mid-action.
func IsTransitional(s InstanceState) bool {
	switch s {
	case InstanceStarting, InstanceStopping, InstanceRebooting:
		return true
	}
	return false
}

// IsTransitionalCluster reports whether an aggregate status is expected to
// settle on its own.
func IsTransitionalCluster(s ClusterStatus) bool {
	switch s {
	case ClusterStarting, ClusterStopping, ClusterTransitioning, ClusterPartial:
		return true
	}
	return false
}

// Reduce collapses the instance states of one cluster into a single aggregate
// status. Precedence, first match wins: any error -> error, any transitional
// -> transitioning, all running -> running, all stopped -> stopped, otherwise
// partial. An empty set reduces to unknown.
func Reduce(states []InstanceState) ClusterStatus {
	if len(states) == 0 {
		return ClusterUnknown
	}

	allRunning := true
	allStopped := true
	for _, s := range states {
		if s == InstanceError {
			return ClusterError
		}
		if s != InstanceRunning {
			allRunning = false
		}
		if s != InstanceStopped {
			allStopped = false
		}
	}

	for _, s := range states {
		if IsTransitional(s) {
			return ClusterTransitioning
		}
	}

	switch {
	case allRunning:
		return ClusterRunning
	case allStopped:
		return ClusterStopped
	default:
		return ClusterPartial
	}
}

// Instance is the observed state of one instance at a point in time.
type Instance struct {
	ID         string        `json:"id"`
	Raw        string        `json:"raw_status"`
	State      InstanceState `json:"state"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Snapshot is a reconciled view of one cluster: the aggregate status plus the
// per-instance states it was derived from.
type Snapshot struct {
	Cluster    string        `json:"cluster"`
	Status     ClusterStatus `json:"status"`
	Instances  []Instance    `json:"instances"`
	CapturedAt time.Time     `json:"captured_at"`
	Error      string        `json:"error,omitempty"`
}

// Reconcile builds a snapshot from raw per-instance provider statuses. The
// instance order follows ids so output is stable across refreshes.
func Reconcile(cluster string, ids []string, raw map[string]string, now time.Time) Snapshot {
	instances := make([]Instance, 0, len(ids))
	states := make([]InstanceState, 0, len(ids))

	for _, id := range ids {
		r, ok := raw[id]
		if !ok {
			r = ""
		}
		state := Normalize(r)
		instances = append(instances, Instance{
			ID:         id,
			Raw:        r,
			State:      state,
			ObservedAt: now,
		})
		states = append(states, state)
	}

	return Snapshot{
		Cluster:    cluster,
		Status:     Reduce(states),
		Instances:  instances,
		CapturedAt: now,
	}
}

// ErrorSnapshot is the degraded snapshot served when the provider cannot be
// queried: operators see the failure instead of a falsely healthy status.
func ErrorSnapshot(cluster string, ids []string, now time.Time, err error) Snapshot {
	instances := make([]Instance, 0, len(ids))
	for _, id := range ids {
		instances = append(instances, Instance{
			ID:         id,
			State:      InstanceUnknown,
			ObservedAt: now,
		})
	}
	return Snapshot{
		Cluster:    cluster,
		Status:     ClusterError,
		Instances:  instances,
		CapturedAt: now,
		Error:      err.Error(),
	}
}
