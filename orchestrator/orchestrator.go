package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/scheduler"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

// ClusterSource produces the current cluster registry, typically by reading
// the configuration file.
type ClusterSource func() ([]types.Cluster, error)

// Orchestrator owns the cluster registry, the status cache, the action
// coordinator and the schedule engine, and exposes the operations consumed by
// the API layer. Scheduled and manual actions funnel through the same
// coordinator, so they share one concurrency guard.
type Orchestrator struct {
	source      ClusterSource
	cache       *cache.Cache
	coordinator *Coordinator
	recorder    history.Recorder
	engine      *scheduler.Engine
	logger      *zerolog.Logger

	reg atomic.Pointer[registry]
	// reloadMu serializes configuration reloads.
	reloadMu sync.Mutex
}

func New(source ClusterSource, statusCache *cache.Cache, coordinator *Coordinator,
	recorder history.Recorder, schedCfg scheduler.Config, logger *zerolog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		source:      source,
		cache:       statusCache,
		coordinator: coordinator,
		recorder:    recorder,
		logger:      logger,
	}
	o.engine = scheduler.NewEngine(schedCfg, o.scheduledFire, logger)

	if err := o.Reload(); err != nil {
		return nil, err
	}
	return o, nil
}

// Start begins firing scheduled jobs.
func (o *Orchestrator) Start() {
	o.engine.Start()
}

// Stop halts scheduling, then waits for in-flight monitors best effort.
func (o *Orchestrator) Stop() {
	o.engine.Stop()
	o.coordinator.Stop()
}

// scheduledFire runs on a scheduler pool worker. Rejections (invalid
// transition, already in progress) are absorbed here: a cluster that is
// already running when its wake-up fires is not an error worth waking anyone
// for.
func (o *Orchestrator) scheduledFire(cluster types.Cluster, direction scheduler.Direction) {
	action := ActionStart
	if direction == scheduler.DirectionShutdown {
		action = ActionStop
	}

	_, err := o.coordinator.RequestAction(context.Background(), cluster, action)
	if err != nil {
		o.logger.Info().Err(err).
			Str("cluster", cluster.Name).
			Str("direction", string(direction)).
			Msg("Scheduled action not executed")
		return
	}
	o.logger.Info().
		Str("cluster", cluster.Name).
		Str("direction", string(direction)).
		Msg("Scheduled action dispatched")
}

// ListClusterStatuses resolves the status of every configured cluster,
// querying independent clusters concurrently. One cluster's failure degrades
// only its own entry.
func (o *Orchestrator) ListClusterStatuses(ctx context.Context, forceRefresh bool) []types.ClusterView {
	clusters := o.reg.Load().list()
	views := make([]types.ClusterView, len(clusters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, cluster := range clusters {
		i, cluster := i, cluster
		g.Go(func() error {
			snap, fromCache, _ := o.cache.Get(gctx, cluster, forceRefresh)
			views[i] = clusterView(cluster, snap, fromCache)
			return nil
		})
	}
	_ = g.Wait()

	return views
}

// GetClusterStatus resolves one cluster by name.
func (o *Orchestrator) GetClusterStatus(ctx context.Context, name string, forceRefresh bool) (types.ClusterView, error) {
	cluster, ok := o.reg.Load().get(name)
	if !ok {
		return types.ClusterView{}, fmt.Errorf("%w: %q", ErrClusterNotFound, name)
	}
	snap, fromCache, _ := o.cache.Get(ctx, cluster, forceRefresh)
	return clusterView(cluster, snap, fromCache), nil
}

// RequestClusterAction validates and issues a manual start/stop.
func (o *Orchestrator) RequestClusterAction(ctx context.Context, name, actionKind string) (types.ActionResult, error) {
	action, err := ParseAction(actionKind)
	if err != nil {
		return types.ActionResult{}, err
	}
	cluster, ok := o.reg.Load().get(name)
	if !ok {
		return types.ActionResult{}, fmt.Errorf("%w: %q", ErrClusterNotFound, name)
	}
	return o.coordinator.RequestAction(ctx, cluster, action)
}

// ListScheduledJobs returns the registered cron jobs.
func (o *Orchestrator) ListScheduledJobs() []types.JobView {
	return o.engine.Jobs()
}

// TriggerJobNow runs a scheduled job immediately, regardless of its cron
// schedule, through the exact same validity rules and concurrency guard.
func (o *Orchestrator) TriggerJobNow(ctx context.Context, clusterName, directionStr string) (types.ActionResult, error) {
	direction, err := scheduler.ParseDirection(directionStr)
	if err != nil {
		return types.ActionResult{}, fmt.Errorf("%w: %v", ErrJobNotFound, err)
	}
	if !o.engine.HasJob(clusterName, direction) {
		return types.ActionResult{}, fmt.Errorf("%w: %s/%s", ErrJobNotFound, clusterName, directionStr)
	}
	cluster, ok := o.reg.Load().get(clusterName)
	if !ok {
		return types.ActionResult{}, fmt.Errorf("%w: %q", ErrClusterNotFound, clusterName)
	}

	action := ActionStart
	if direction == scheduler.DirectionShutdown {
		action = ActionStop
	}
	return o.coordinator.RequestAction(ctx, cluster, action)
}

// Reload re-reads the cluster registry and rebuilds the job set atomically.
// In-flight markers are left untouched: monitors for actions already running
// keep their guard until they terminate.
func (o *Orchestrator) Reload() error {
	o.reloadMu.Lock()
	defer o.reloadMu.Unlock()

	clusters, err := o.source()
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}

	if err := o.engine.LoadJobs(clusters); err != nil {
		return fmt.Errorf("schedule jobs: %w", err)
	}
	o.reg.Store(newRegistry(clusters))

	o.logger.Info().Int("clusters", len(clusters)).Msg("Configuration loaded")
	return nil
}

// Clusters returns the current registry snapshot.
func (o *Orchestrator) Clusters() []types.Cluster {
	return o.reg.Load().list()
}

// SchedulerRunning reports whether the engine loop is active, for health.
func (o *Orchestrator) SchedulerRunning() bool {
	return o.engine.Running()
}

// CacheStats reports cache entry count and ages.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// CacheClear drops all cached snapshots.
func (o *Orchestrator) CacheClear() {
	o.cache.Clear()
}

// History returns recent action audit entries.
func (o *Orchestrator) History(ctx context.Context, since time.Time) ([]history.Entry, error) {
	return o.recorder.Recent(ctx, since)
}

func clusterView(cluster types.Cluster, snap status.Snapshot, fromCache bool) types.ClusterView {
	return types.ClusterView{
		Name:        cluster.Name,
		Description: cluster.Description,
		Region:      cluster.Region,
		Tags:        cluster.Tags,
		Enabled:     cluster.Enabled,
		Schedule: types.ScheduleView{
			WakeUp:   cluster.WakeUpCron,
			Shutdown: cluster.ShutdownCron,
		},
		Status:    snap.Status,
		Instances: snap.Instances,
		FromCache: fromCache,
		Error:     snap.Error,
	}
}
