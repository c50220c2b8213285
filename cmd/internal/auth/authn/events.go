package authn

import (
	"sync"
	"time"

	"medgate/cmd/identity"
)

// EventKind identifies an authentication transition.
type EventKind string

const (
	EventLoginSucceeded EventKind = "auth.login.succeeded"
	EventLoginFailed    EventKind = "auth.login.failed"
	EventRegistered     EventKind = "auth.register.succeeded"
	EventRegisterFailed EventKind = "auth.register.failed"
	EventLoggedOut      EventKind = "auth.logout"
	EventSessionExpired EventKind = "session.expired"
)

// Event describes one transition. Owner is the connection id it concerns.
type Event struct {
	Kind      EventKind
	Owner     string
	Username  string
	Code      Code
	Field     identity.Field
	Role      identity.Role
	SessionID string
	At        time.Time
	// Err is the underlying store error for CodeDatabaseError.
	Err error
}

// Listener receives events synchronously on the goroutine that caused them.
// Implementations must not block.
type Listener interface {
	HandleAuthEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleAuthEvent(e Event) { f(e) }

// Listeners fans an event out to several listeners in order.
type Listeners []Listener

func (ls Listeners) HandleAuthEvent(e Event) {
	for _, l := range ls {
		if l != nil {
			l.HandleAuthEvent(e)
		}
	}
}

// hub is the Authenticator's subscriber list.
type hub struct {
	mu sync.RWMutex
	ls Listeners
}

func (h *hub) add(l Listener) {
	h.mu.Lock()
	h.ls = append(h.ls[:len(h.ls):len(h.ls)], l)
	h.mu.Unlock()
}

func (h *hub) emit(e Event) {
	h.mu.RLock()
	ls := h.ls
	h.mu.RUnlock()
	ls.HandleAuthEvent(e)
}
