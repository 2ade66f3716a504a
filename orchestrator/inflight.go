package orchestrator

import (
	"sync"
	"time"
)

type inflightKey struct {
	cluster string
	action  Action
}

// inflightGuard tracks which (cluster, action) pairs have an accepted action
// that has not yet reached a terminal outcome. It lives in process memory
// only; a restart starts with an empty registry.
type inflightGuard struct {
	mu     sync.Mutex
	active map[inflightKey]time.Time
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[inflightKey]time.Time)}
}

// tryAcquire is an indivisible check-then-set: of two concurrent callers for
// the same pair, exactly one wins.
func (g *inflightGuard) tryAcquire(cluster string, action Action) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := inflightKey{cluster: cluster, action: action}
	if _, busy := g.active[k]; busy {
		return false
	}
	g.active[k] = time.Now()
	return true
}

func (g *inflightGuard) release(cluster string, action Action) {
	g.mu.Lock()
	delete(g.active, inflightKey{cluster: cluster, action: action})
	g.mu.Unlock()
}

func (g *inflightGuard) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
