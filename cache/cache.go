package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/cristianemoyano/cloudnap/metrics"
	"github.com/cristianemoyano/cloudnap/provider"
	"github.com/cristianemoyano/cloudnap/status"
	"github.com/cristianemoyano/cloudnap/types"
)

type Config struct {
	// TTL is the maximum age at which an entry is still served without a
	// provider call. Expiry is checked at read time.
	TTL time.Duration
	// ProviderTimeout bounds each describe call.
	ProviderTimeout time.Duration
	// ServeStaleOnError serves an expired entry instead of an error snapshot
	// when the provider cannot be reached. Off by default so operators are
	// never shown a falsely healthy status.
	ServeStaleOnError bool
}

// Cache memoizes per-cluster status snapshots to bound provider call volume.
type Cache struct {
	gateway provider.Gateway
	cfg     Config
	logger  *zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

type entry struct {
	snapshot status.Snapshot
	storedAt time.Time
}

func New(gateway provider.Gateway, cfg Config, logger *zerolog.Logger) *Cache {
	return &Cache{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the status snapshot for a cluster. When forceRefresh is false
// and a fresh entry exists it is served from memory with fromCache=true and
// no provider call. Otherwise the provider is queried, the result reconciled
// and stored. On provider failure an error-kind snapshot is returned along
// with the error; failed snapshots are never stored, so the next read
// retries the provider.
func (c *Cache) Get(ctx context.Context, cluster types.Cluster, forceRefresh bool) (status.Snapshot, bool, error) {
	if !forceRefresh {
		if snap, ok := c.lookup(cluster.Name); ok {
			metrics.CacheReads.WithLabelValues("hit").Inc()
			return snap, true, nil
		}
	}

	// Concurrent refreshes for the same cluster collapse to one provider
	// call; different clusters proceed independently.
	v, _, _ := c.group.Do(cluster.Name, func() (interface{}, error) {
		return c.refresh(ctx, cluster), nil
	})
	res := v.(refreshResult)
	return res.snapshot, res.fromCache, res.err
}

type refreshResult struct {
	snapshot  status.Snapshot
	fromCache bool
	err       error
}

func (c *Cache) refresh(ctx context.Context, cluster types.Cluster) refreshResult {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	raw, err := c.gateway.DescribeInstances(cctx, cluster.InstanceIDs)
	now := c.now()
	if err != nil {
		metrics.CacheReads.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("cluster", cluster.Name).Msg("Provider describe failed")

		if c.cfg.ServeStaleOnError {
			if snap, ok := c.lookupStale(cluster.Name); ok {
				return refreshResult{snapshot: snap, fromCache: true, err: err}
			}
		}
		return refreshResult{snapshot: status.ErrorSnapshot(cluster.Name, cluster.InstanceIDs, now, err), err: err}
	}

	metrics.CacheReads.WithLabelValues("miss").Inc()
	snap := status.Reconcile(cluster.Name, cluster.InstanceIDs, raw, now)

	c.mu.Lock()
	c.entries[cluster.Name] = entry{snapshot: snap, storedAt: now}
	c.mu.Unlock()

	return refreshResult{snapshot: snap}
}

func (c *Cache) lookup(cluster string) (status.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cluster]
	if !ok || c.now().Sub(e.storedAt) >= c.cfg.TTL {
		return status.Snapshot{}, false
	}
	return e.snapshot, true
}

// lookupStale returns an entry regardless of age.
func (c *Cache) lookupStale(cluster string) (status.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cluster]
	return e.snapshot, ok
}

// Invalidate drops the entry for one cluster, typically right after an action
// was issued so the next listing does not show the pre-action status.
func (c *Cache) Invalidate(cluster string) {
	c.mu.Lock()
	delete(c.entries, cluster)
	c.mu.Unlock()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	c.logger.Info().Msg("Status cache cleared")
}

type Stats struct {
	TotalEntries   int         `json:"total_entries"`
	ActiveEntries  int         `json:"active_entries"`
	ExpiredEntries int         `json:"expired_entries"`
	TTLSeconds     float64     `json:"ttl_seconds"`
	Entries        []EntryStat `json:"entries"`
}

type EntryStat struct {
	Cluster    string  `json:"cluster"`
	AgeSeconds float64 `json:"age_seconds"`
	Expired    bool    `json:"expired"`
}

// Stats reports entry count and ages for operational visibility.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	stats := Stats{
		TotalEntries: len(c.entries),
		TTLSeconds:   c.cfg.TTL.Seconds(),
		Entries:      make([]EntryStat, 0, len(c.entries)),
	}
	for name, e := range c.entries {
		age := now.Sub(e.storedAt)
		expired := age >= c.cfg.TTL
		if expired {
			stats.ExpiredEntries++
		} else {
			stats.ActiveEntries++
		}
		stats.Entries = append(stats.Entries, EntryStat{
			Cluster:    name,
			AgeSeconds: age.Seconds(),
			Expired:    expired,
		})
	}
	return stats
}
