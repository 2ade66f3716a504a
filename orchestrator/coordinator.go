package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/metrics"
	"github.com/cristianemoyano/cloudnap/provider"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

// Action is a requested power transition for a whole cluster.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ParseAction validates an action kind coming from the API layer.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionStart, ActionStop:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// expectedStatus is the terminal aggregate status an accepted action should
// converge to.
func expectedStatus(a Action) status.ClusterStatus {
	if a == ActionStart {
		return status.ClusterRunning
	}
	return status.ClusterStopped
}

// actionAllowed implements the validity table: running allows only stop,
// stopped only start, transitional statuses allow nothing, and the degraded
// statuses (partial, error, unknown) allow both so operators can recover.
func actionAllowed(s status.ClusterStatus, a Action) bool {
	switch s {
	case status.ClusterRunning:
		return a == ActionStop
	case status.ClusterStopped:
		return a == ActionStart
	case status.ClusterStarting, status.ClusterStopping, status.ClusterTransitioning:
		return false
	case status.ClusterPartial, status.ClusterError, status.ClusterUnknown:
		return true
	}
	return false
}

type CoordinatorConfig struct {
	// ProviderTimeout bounds the start/stop gateway call itself.
	ProviderTimeout time.Duration
	// PollInterval is the delay between monitor polls.
	PollInterval time.Duration
	// MaxRetries bounds the number of monitor polls per accepted action.
	MaxRetries uint
}

// Coordinator is the state machine guarding cluster power actions: it
// validates requests against the current aggregate status, keeps at most one
// action in flight per (cluster, action) pair, issues accepted actions to the
// provider and monitors them to convergence.
type Coordinator struct {
	gateway  provider.Gateway
	cache    *cache.Cache
	recorder history.Recorder
	cfg      CoordinatorConfig
	logger   *zerolog.Logger

	inflight  *inflightGuard
	broadcast chan<- types.Broadcast

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires the coordinator. broadcast may be nil; events are then
// dropped. Sends never block: a slow websocket consumer cannot stall actions.
func NewCoordinator(gateway provider.Gateway, statusCache *cache.Cache, recorder history.Recorder,
	cfg CoordinatorConfig, logger *zerolog.Logger, broadcast chan<- types.Broadcast) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		gateway:   gateway,
		cache:     statusCache,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		inflight:  newInflightGuard(),
		broadcast: broadcast,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RequestAction validates and issues one power action for a cluster. On
// acceptance it returns immediately and a background monitor tracks the
// provider-side convergence.
func (c *Coordinator) RequestAction(ctx context.Context, cluster types.Cluster, action Action) (types.ActionResult, error) {
	if action != ActionStart && action != ActionStop {
		return types.ActionResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	// A cached status is acceptable for the validity check; the monitor
	// re-verifies against a forced refresh either way.
	snap, _, _ := c.cache.Get(ctx, cluster, false)
	if !actionAllowed(snap.Status, action) {
		return types.ActionResult{}, &InvalidTransitionError{
			Cluster: cluster.Name,
			Action:  action,
			Status:  snap.Status,
		}
	}

	if !c.inflight.tryAcquire(cluster.Name, action) {
		return types.ActionResult{}, &AlreadyInProgressError{Cluster: cluster.Name, Action: action}
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	var err error
	if action == ActionStart {
		err = c.gateway.StartInstances(cctx, cluster.InstanceIDs)
	} else {
		err = c.gateway.StopInstances(cctx, cluster.InstanceIDs)
	}
	if err != nil {
		c.inflight.release(cluster.Name, action)
		metrics.ActionsTotal.WithLabelValues(cluster.Name, string(action), "failed").Inc()
		c.record(cluster.Name, action, history.OutcomeFailed, err.Error())
		c.publish("action_failed", types.ActionResult{
			Cluster: cluster.Name,
			Action:  string(action),
			Message: err.Error(),
		})
		c.logger.Error().Err(err).
			Str("cluster", cluster.Name).
			Str("action", string(action)).
			Msg("Provider rejected action")
		return types.ActionResult{}, &ProviderCallError{Cluster: cluster.Name, Action: action, Err: err}
	}

	// Drop the cached pre-action status so listings pick up the transition.
	c.cache.Invalidate(cluster.Name)

	metrics.ActionsTotal.WithLabelValues(cluster.Name, string(action), "accepted").Inc()
	c.record(cluster.Name, action, history.OutcomeAccepted, "")
	c.publish("action_accepted", types.ActionResult{
		Cluster:  cluster.Name,
		Action:   string(action),
		Accepted: true,
	})
	c.logger.Info().
		Str("cluster", cluster.Name).
		Str("action", string(action)).
		Int("instances", len(cluster.InstanceIDs)).
		Msg("Action accepted, monitoring convergence")

	c.wg.Add(1)
	go c.monitor(cluster, action)

	return types.ActionResult{
		Cluster:  cluster.Name,
		Action:   string(action),
		Accepted: true,
		Message:  fmt.Sprintf("%s accepted for cluster %s", action, cluster.Name),
	}, nil
}

// InflightCount reports the number of in-flight actions, for metrics.
func (c *Coordinator) InflightCount() float64 {
	return float64(c.inflight.count())
}

// Stop cancels running monitors and waits for them. Best effort: the
// provider-side actions themselves are not rolled back.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) record(cluster string, action Action, outcome history.Outcome, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.recorder.Record(ctx, history.Entry{
		Cluster: cluster,
		Action:  string(action),
		Outcome: outcome,
		Message: msg,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("cluster", cluster).Msg("Failed to record action history")
	}
}

func (c *Coordinator) publish(messageType string, data interface{}) {
	if c.broadcast == nil {
		return
	}
	select {
	case c.broadcast <- types.Broadcast{MessageType: messageType, Data: data}:
	default:
	}
}
