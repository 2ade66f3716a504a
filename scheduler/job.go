package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron"

	"github.com/cristianemoyano/cloudnap/types"
)

// Direction identifies which of a cluster's two schedules a job belongs to.
type Direction string

const (
	DirectionWakeUp   Direction = "wake_up"
	DirectionShutdown Direction = "shutdown"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionWakeUp, DirectionShutdown:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown schedule direction %q", s)
}

// job is one (cluster, direction) cron binding. The expression is evaluated
// against the cluster's own timezone, so daylight-saving transitions shift
// the wall-clock fire time, not the UTC offset.
type job struct {
	cluster   types.Cluster
	direction Direction
	expr      string
	sched     cron.Schedule
	loc       *time.Location
	next      time.Time
}

func newJob(cluster types.Cluster, direction Direction, expr string, now time.Time) (*job, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q for cluster %s: %v", expr, cluster.Name, err)
	}

	tz := cluster.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q for cluster %s: %v", tz, cluster.Name, err)
	}

	j := &job{
		cluster:   cluster,
		direction: direction,
		expr:      expr,
		sched:     sched,
		loc:       loc,
	}
	j.next = j.nextAfter(now)
	return j, nil
}

func (j *job) nextAfter(t time.Time) time.Time {
	return j.sched.Next(t.In(j.loc))
}

func (j *job) view() types.JobView {
	return types.JobView{
		Cluster:   j.cluster.Name,
		Direction: string(j.direction),
		CronExpr:  j.expr,
		Timezone:  j.loc.String(),
		NextFire:  j.next,
		Enabled:   j.cluster.Enabled,
	}
}
