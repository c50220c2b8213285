package gateway

import (
	"errors"
	"sync"
	"time"

	"medgate/cmd/identity/ids"
)

// ErrRequestInFlight is returned by Begin when the connection already has
// an unresolved request.
var ErrRequestInFlight = errors.New("gateway: request already in flight")

// PendingRequest is a parsed request waiting for its result.
type PendingRequest struct {
	RequestID   string
	ClientID    string
	ConnID      string
	Action      string
	Username    string
	RequestedAt time.Time
}

// PendingTable correlates results with the connection that asked, keyed by
// a server-issued request id. Each connection has at most one entry.
type PendingTable struct {
	now func() time.Time

	mu     sync.Mutex
	byID   map[string]PendingRequest
	byConn map[string]string
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		now:    time.Now,
		byID:   make(map[string]PendingRequest),
		byConn: make(map[string]string),
	}
}

// Begin records a request for connID and returns its request id.
func (t *PendingTable) Begin(connID, clientID, action, username string) (string, error) {
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.byConn[connID]; busy {
		return "", ErrRequestInFlight
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	t.byID[id] = PendingRequest{
		RequestID:   id,
		ClientID:    clientID,
		ConnID:      connID,
		Action:      action,
		Username:    username,
		RequestedAt: now,
	}
	t.byConn[connID] = id
	return id, nil
}

// Resolve removes and returns the entry for requestID. It reports false if
// the entry is gone, for instance because the connection was dropped.
func (t *PendingTable) Resolve(requestID string) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byID[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	delete(t.byID, requestID)
	if t.byConn[p.ConnID] == requestID {
		delete(t.byConn, p.ConnID)
	}
	return p, true
}

// DropConnection forgets connID's pending request, if any.
func (t *PendingTable) DropConnection(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byConn[connID]; ok {
		delete(t.byID, id)
		delete(t.byConn, connID)
	}
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
