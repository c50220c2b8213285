package gateway

import (
	"sort"
	"sync"
	"time"
)

// ConnInfo is a point-in-time view of one registered connection.
type ConnInfo struct {
	ID         string
	Transport  string
	RemoteAddr string
	Username   string
	AcceptedAt time.Time
}

type regEntry struct {
	client   *Client
	username string
	seq      uint64
}

// Registry tracks live connections and the username each last named.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*regEntry
	nextQ uint64
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*regEntry)}
}

// Add registers c. Adding an id twice keeps the first registration.
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return false
	}
	r.nextQ++
	r.byID[c.ID] = &regEntry{client: c, seq: r.nextQ}
	return true
}

// Associate records username against connID. The last call wins.
func (r *Registry) Associate(connID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[connID]
	if !ok {
		return false
	}
	e.username = username
	return true
}

// Remove drops connID and returns its client, if it was registered.
func (r *Registry) Remove(connID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[connID]
	if !ok {
		return nil, false
	}
	delete(r.byID, connID)
	return e.client, true
}

func (r *Registry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[connID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// FindByUsername returns the earliest-accepted connection associated with
// username. Results are never routed this way; it serves diagnostics.
func (r *Registry) FindByUsername(username string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *regEntry
	for _, e := range r.byID {
		if e.username != username {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.client, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot lists every connection in accept order.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	entries := make([]*regEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	out := make([]ConnInfo, 0, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for _, e := range entries {
		out = append(out, ConnInfo{
			ID:         e.client.ID,
			Transport:  e.client.Transport,
			RemoteAddr: e.client.RemoteAddr,
			Username:   e.username,
			AcceptedAt: e.client.AcceptedAt,
		})
	}
	r.mu.RUnlock()
	return out
}
