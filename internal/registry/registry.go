// Package registry implements the process-wide connection registry: a
// mapping from connection id to observable metadata.
package registry

import (
	"sync"
	"time"
)

// Metadata mirrors the observable state of one live connection. It is a
// snapshot value type — callers never get a pointer into the registry's own
// storage.
type Metadata struct {
	ConnectionID            string
	RemoteAddress           string
	ConnectedAt             time.Time
	Authenticated           bool
	UserID                  string
	Roles                   []string
	StoreSubscriptionCount  int
	RulesSubscriptionCount  int
}

// Registry is safe for concurrent use by many workers: an RWMutex-guarded
// map, generalized from a per-user/per-tab websocket map to a flat
// per-connection metadata map, since this registry keys by connection id
// rather than by user.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Metadata)}
}

// Register adds a new connection's metadata. Called once, from init, before
// the connection's welcome frame is sent.
func (r *Registry) Register(m Metadata) {
	if m.ConnectedAt.IsZero() {
		m.ConnectedAt = time.Now()
	}
	r.mu.Lock()
	r.entries[m.ConnectionID] = m
	r.mu.Unlock()
}

// UpdateAuth updates the authenticated/userID/roles fields for a connection.
// No-op if the connection is not (or no longer) registered.
func (r *Registry) UpdateAuth(connectionID string, authenticated bool, userID string, roles []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[connectionID]
	if !ok {
		return
	}
	m.Authenticated = authenticated
	m.UserID = userID
	m.Roles = roles
	r.entries[connectionID] = m
}

// UpdateSubscriptions updates the subscription counts for a connection.
func (r *Registry) UpdateSubscriptions(connectionID string, storeCount, rulesCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[connectionID]
	if !ok {
		return
	}
	m.StoreSubscriptionCount = storeCount
	m.RulesSubscriptionCount = rulesCount
	r.entries[connectionID] = m
}

// Deregister removes a connection's metadata. Called once, from terminate.
func (r *Registry) Deregister(connectionID string) {
	r.mu.Lock()
	delete(r.entries, connectionID)
	r.mu.Unlock()
}

// Get looks up a single connection's metadata.
func (r *Registry) Get(connectionID string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[connectionID]
	return m, ok
}

// Snapshot returns every live connection's metadata at the moment of the
// call.
func (r *Registry) Snapshot() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, m := range r.entries {
		out = append(out, m)
	}
	return out
}

// Counts returns the total number of live connections and the sum of all
// their store+rules subscription counts.
func (r *Registry) Counts() (connections int, subscriptions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.entries {
		connections++
		subscriptions += m.StoreSubscriptionCount + m.RulesSubscriptionCount
	}
	return connections, subscriptions
}
