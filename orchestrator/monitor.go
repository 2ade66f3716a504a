package orchestrator

import (
	"fmt"

	"github.com/avast/retry-go/v5"

	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/metrics"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

// monitor polls the freshly refreshed status on a fixed interval until the
// expected terminal status is observed or the retry budget runs out.
// Intermediate statuses (transitioning, partial) are expected, not failures.
// Every exit path clears the in-flight marker so the next request is
// accepted again.
func (c *Coordinator) monitor(cluster types.Cluster, action Action) {
	defer c.wg.Done()
	defer c.inflight.release(cluster.Name, action)

	expected := expectedStatus(action)
	var last status.ClusterStatus

	err := retry.New(
		retry.Attempts(c.cfg.MaxRetries),
		retry.Delay(c.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Context(c.ctx),
		retry.LastErrorOnly(true),
	).Do(func() error {
		snap, _, err := c.cache.Get(c.ctx, cluster, true)
		if err != nil {
			return fmt.Errorf("status poll for cluster %s: %w", cluster.Name, err)
		}
		last = snap.Status
		if snap.Status == expected {
			return nil
		}
		return fmt.Errorf("cluster %s is %s, waiting for %s", cluster.Name, snap.Status, expected)
	})

	switch {
	case err == nil:
		metrics.ActionsTotal.WithLabelValues(cluster.Name, string(action), "completed").Inc()
		c.record(cluster.Name, action, history.OutcomeCompleted, "")
		c.publish("action_completed", types.ActionResult{
			Cluster:  cluster.Name,
			Action:   string(action),
			Accepted: true,
			Message:  fmt.Sprintf("cluster reached %s", expected),
		})
		c.logger.Info().
			Str("cluster", cluster.Name).
			Str("action", string(action)).
			Msg("Action completed")

	case c.ctx.Err() != nil:
		// Shutdown; the provider action may still complete on its own.
		c.logger.Debug().
			Str("cluster", cluster.Name).
			Str("action", string(action)).
			Msg("Monitor canceled")

	default:
		// Not an error for the original caller: the action was already
		// accepted and may still land after the retry budget.
		metrics.ActionsTotal.WithLabelValues(cluster.Name, string(action), "timeout").Inc()
		c.record(cluster.Name, action, history.OutcomeTimeout,
			fmt.Sprintf("last observed status: %s", last))
		c.publish("action_timeout", types.ActionResult{
			Cluster: cluster.Name,
			Action:  string(action),
			Message: fmt.Sprintf("did not reach %s after %d polls", expected, c.cfg.MaxRetries),
		})
		c.logger.Warn().
			Str("cluster", cluster.Name).
			Str("action", string(action)).
			Str("last_status", string(last)).
			Uint("polls", c.cfg.MaxRetries).
			Msg("Monitor gave up waiting for terminal status")
	}
}
