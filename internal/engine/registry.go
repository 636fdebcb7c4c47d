package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the live runtime for each in-progress session. At most one
// runtime exists per session id; re-entry resumes it rather than forking a
// second countdown.
type Registry struct {
	mu   sync.Mutex
	live map[uuid.UUID]*Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[uuid.UUID]*Runtime)}
}

// Get returns the live runtime for a session, or nil.
func (g *Registry) Get(sessionID uuid.UUID) *Runtime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live[sessionID]
}

// GetOrPut returns the existing runtime for the session, or registers the
// one built by the factory. The second return reports whether the runtime
// already existed. The factory runs under the registry lock so two concurrent
// resumes cannot both build a runtime.
func (g *Registry) GetOrPut(sessionID uuid.UUID, build func() *Runtime) (*Runtime, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rt, ok := g.live[sessionID]; ok {
		return rt, true
	}
	rt := build()
	g.live[sessionID] = rt
	return rt, false
}

// Remove stops and drops the runtime for a session. Safe to call twice.
func (g *Registry) Remove(sessionID uuid.UUID) {
	g.mu.Lock()
	rt := g.live[sessionID]
	delete(g.live, sessionID)
	g.mu.Unlock()

	if rt != nil {
		rt.Stop()
	}
}

// StopAll tears down every live runtime (server shutdown).
func (g *Registry) StopAll() {
	g.mu.Lock()
	runtimes := make([]*Runtime, 0, len(g.live))
	for _, rt := range g.live {
		runtimes = append(runtimes, rt)
	}
	g.live = make(map[uuid.UUID]*Runtime)
	g.mu.Unlock()

	for _, rt := range runtimes {
		rt.Stop()
	}
}
