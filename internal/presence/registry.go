// Package presence tracks which users currently have a live session and the
// route real-time events should take to reach them. State is process-local
// and exists only while sessions are connected.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Route is a best-effort delivery target for one session. Deliver must never
// block; it reports false when the payload was dropped (buffer full, closed).
type Route interface {
	Deliver(data []byte) bool
}

type Entry struct {
	UserID      uuid.UUID
	Route       Route
	ConnectedAt time.Time
}

// Registry maps user IDs to their single active session. A later Register for
// the same user supersedes the earlier entry's routing target; the stale
// session is not closed and discovers its own staleness on disconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]Entry)}
}

// Register installs the route for userID, replacing any prior entry.
func (r *Registry) Register(userID uuid.UUID, route Route) Entry {
	e := Entry{UserID: userID, Route: route, ConnectedAt: time.Now()}
	r.mu.Lock()
	r.entries[userID] = e
	r.mu.Unlock()
	return e
}

// Unregister removes the entry only if it still points at route. A slow
// disconnect of an old session must not evict a newer registration, so user
// ID alone is never enough.
func (r *Registry) Unregister(userID uuid.UUID, route Route) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.Route != route {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) Lookup(userID uuid.UUID) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.Route, true
}

func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}
