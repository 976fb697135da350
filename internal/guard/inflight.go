package guard

import (
	"sync"
)

// InFlight rejects a second concurrent operation for the same key,
// such as two invoice requests for one user racing each other.
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInFlight creates an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// Acquire marks key busy. It returns a release func, or an unallowed Result
// when key is already busy. Empty keys are never guarded.
func (g *InFlight) Acquire(key string) (func(), Result) {
	if key == "" {
		return func() {}, allow()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[key]; busy {
		return nil, Result{Reason: "operation already in progress", Guard: "in_flight"}
	}
	g.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, allow()
}
