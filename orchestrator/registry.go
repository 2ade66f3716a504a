package orchestrator

import "github.com/cristianemoyano/cloudnap/types"

// registry is an immutable snapshot of the configured clusters. Reload builds
// a fresh one and swaps the pointer; readers always see a complete set.
type registry struct {
	clusters []types.Cluster
	byName   map[string]types.Cluster
}

func newRegistry(clusters []types.Cluster) *registry {
	byName := make(map[string]types.Cluster, len(clusters))
	for _, c := range clusters {
		byName[c.Name] = c
	}
	return &registry{clusters: clusters, byName: byName}
}

func (r *registry) get(name string) (types.Cluster, bool) {
	c, ok := r.byName[name]
	return c, ok
}

func (r *registry) list() []types.Cluster {
	return r.clusters
}
