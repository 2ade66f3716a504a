package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cristianemoyano/cloudnap/metrics"
	"github.com/cristianemoyano/cloudnap/types"
)

// FireFunc is invoked when a job's cron schedule fires. It runs on a pool
// worker, never on the scheduling goroutine.
type FireFunc func(cluster types.Cluster, direction Direction)

type Config struct {
	// Workers is the size of the pool executing fire callbacks.
	Workers int
}

// Engine owns one cron job per (enabled cluster, direction) pair and fires
// them at their next occurrence in the cluster's timezone. There is no
// catch-up for fire times missed while the process was down; after a restart
// scheduling resumes from the next occurrence.
type Engine struct {
	fire   FireFunc
	logger *zerolog.Logger
	pool   *workerPool

	mu   sync.Mutex
	jobs []*job

	reloadCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool

	now func() time.Time
}

func NewEngine(cfg Config, fire FireFunc, logger *zerolog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		fire:     fire,
		logger:   logger,
		pool:     newWorkerPool(cfg.Workers),
		reloadCh: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// LoadJobs replaces the complete job set with one built from clusters.
// Disabled clusters get no jobs. The new set is built fully before the swap:
// a failed build leaves the previous set untouched, and no stale job can fire
// after the swap.
func (e *Engine) LoadJobs(clusters []types.Cluster) error {
	now := e.now()
	jobs := make([]*job, 0, len(clusters)*2)

	for _, cluster := range clusters {
		if !cluster.Enabled {
			continue
		}
		pairs := []struct {
			direction Direction
			expr      string
		}{
			{DirectionWakeUp, cluster.WakeUpCron},
			{DirectionShutdown, cluster.ShutdownCron},
		}
		for _, p := range pairs {
			if p.expr == "" {
				continue
			}
			j, err := newJob(cluster, p.direction, p.expr, now)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
			e.logger.Info().
				Str("cluster", cluster.Name).
				Str("direction", string(p.direction)).
				Str("cron", p.expr).
				Time("next_fire", j.next).
				Msg("Scheduled job")
		}
	}

	e.mu.Lock()
	e.jobs = jobs
	e.mu.Unlock()

	// Wake the scheduling loop so it re-evaluates the earliest fire time.
	select {
	case e.reloadCh <- struct{}{}:
	default:
	}
	return nil
}

func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.pool.start()
	e.wg.Add(1)
	go e.run()
	e.logger.Info().Msg("Schedule engine started")
}

// Stop halts scheduling and waits for in-progress fire callbacks.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.pool.stop()
	e.logger.Info().Msg("Schedule engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		next, ok := e.earliest()

		var timer *time.Timer
		var fireC <-chan time.Time
		if ok {
			wait := next.Sub(e.now())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			fireC = timer.C
		}

		select {
		case <-e.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.reloadCh:
			if timer != nil {
				timer.Stop()
			}
		case <-fireC:
			e.fireDue()
		}
	}
}

func (e *Engine) earliest() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var next time.Time
	for _, j := range e.jobs {
		if next.IsZero() || j.next.Before(next) {
			next = j.next
		}
	}
	return next, !next.IsZero()
}

// fireDue dispatches every job whose fire time has arrived and advances it to
// its next occurrence. Due jobs are collected first and submitted with the
// lock released: submit blocks when the task queue is full, and that must not
// stall LoadJobs or the job queries.
func (e *Engine) fireDue() {
	now := e.now()

	type firing struct {
		cluster   types.Cluster
		direction Direction
	}
	var due []firing

	e.mu.Lock()
	for _, j := range e.jobs {
		if j.next.After(now) {
			continue
		}
		due = append(due, firing{cluster: j.cluster, direction: j.direction})
		j.next = j.nextAfter(now)
	}
	e.mu.Unlock()

	for _, f := range due {
		cluster, direction := f.cluster, f.direction
		e.logger.Info().
			Str("cluster", cluster.Name).
			Str("direction", string(direction)).
			Msg("Cron job fired")
		metrics.ScheduledFires.WithLabelValues(cluster.Name, string(direction)).Inc()
		e.pool.submit(func() {
			e.fire(cluster, direction)
		})
	}
}

// HasJob reports whether a (cluster, direction) job is registered.
func (e *Engine) HasJob(cluster string, direction Direction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, j := range e.jobs {
		if j.cluster.Name == cluster && j.direction == direction {
			return true
		}
	}
	return false
}

// Jobs returns the registered jobs sorted by cluster then direction.
func (e *Engine) Jobs() []types.JobView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]types.JobView, 0, len(e.jobs))
	for _, j := range e.jobs {
		views = append(views, j.view())
	}
	sort.Slice(views, func(i, k int) bool {
		if views[i].Cluster != views[k].Cluster {
			return views[i].Cluster < views[k].Cluster
		}
		return views[i].Direction < views[k].Direction
	})
	return views
}

// Running reports whether the scheduling loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
