package orchestrator

import (
	"errors"
	"fmt"

	"github.com/cristianemoyano/cloudnap/status"
)

var (
	// ErrInvalidAction marks an unknown action kind. Never retried.
	ErrInvalidAction = errors.New("invalid action")
	// ErrClusterNotFound marks a cluster name absent from the registry.
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrJobNotFound marks a (cluster, direction) pair with no registered job.
	ErrJobNotFound = errors.New("scheduled job not found")
)

// InvalidTransitionError rejects an action that is not legal for the
// cluster's current aggregate status.
type InvalidTransitionError struct {
	Cluster string
	Action  Action
	Status  status.ClusterStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s cluster %q while it is %s", e.Action, e.Cluster, e.Status)
}

// AlreadyInProgressError rejects a request while the same (cluster, action)
// pair is in flight. The caller may retry later; nothing is queued.
type AlreadyInProgressError struct {
	Cluster string
	Action  Action
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("%s already in progress for cluster %q", e.Action, e.Cluster)
}

// ProviderCallError wraps a gateway failure on the triggering call.
type ProviderCallError struct {
	Cluster string
	Action  Action
	Err     error
}

func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("provider call failed for %s on cluster %q: %v", e.Action, e.Cluster, e.Err)
}

func (e *ProviderCallError) Unwrap() error { return e.Err }
