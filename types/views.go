package types

import (
	"time"

	"github.com/cristianemoyano/cloudnap/status"
)

// ClusterView is the API-facing status of one cluster.
type ClusterView struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Region      string               `json:"region"`
	Tags        []string             `json:"tags,omitempty"`
	Enabled     bool                 `json:"enabled"`
	Schedule    ScheduleView         `json:"schedule"`
	Status      status.ClusterStatus `json:"overall_status"`
	Instances   []status.Instance    `json:"instances"`
	FromCache   bool                 `json:"from_cache"`
	Error       string               `json:"error,omitempty"`
}

type ScheduleView struct {
	WakeUp   string `json:"wake_up"`
	Shutdown string `json:"shutdown"`
}

// JobView describes one registered cron job.
type JobView struct {
	Cluster   string    `json:"cluster"`
	Direction string    `json:"direction"`
	CronExpr  string    `json:"cron_expr"`
	Timezone  string    `json:"timezone"`
	NextFire  time.Time `json:"next_fire_time"`
	Enabled   bool      `json:"enabled"`
}

// ActionResult is returned to the caller of a start/stop request.
type ActionResult struct {
	Cluster  string `json:"cluster"`
	Action   string `json:"action"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}
