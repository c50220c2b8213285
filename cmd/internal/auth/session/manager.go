package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"medgate/cmd/identity"
	"medgate/cmd/identity/ids"
	"medgate/cmd/security/token"
)

// Session is one login. Token is the opaque session secret; the manager
// and its mirror store key it by digest only.
type Session struct {
	ID        string
	Token     string
	Owner     string
	Account   identity.Account
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s Session) record(key string) Record {
	return Record{
		Key:       key,
		ID:        s.ID,
		Owner:     s.Owner,
		Username:  s.Account.Username,
		Role:      int(s.Account.Role),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

// Timer is the part of *time.Timer the manager uses.
type Timer interface {
	Stop() bool
}

// Scheduler arms idle timers. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type entry struct {
	sess  Session
	key   string
	timer Timer
}

// Manager owns every live session. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	store  Store
	digest token.Digester
	sched  Scheduler
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	byOwner  map[string]*entry
	onExpire func(Session)
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the mirror store. Default: none.
func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

// WithDigester sets how tokens are turned into keys. Default: SHA-256.
func WithDigester(d token.Digester) Option { return func(m *Manager) { m.digest = d } }

// WithScheduler replaces time.AfterFunc.
func WithScheduler(s Scheduler) Option { return func(m *Manager) { m.sched = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// NewManager validates cfg and returns an empty Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:     cfg,
		sched:   wallScheduler{},
		now:     time.Now,
		log:     slog.New(slog.DiscardHandler),
		byOwner: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.sched == nil || m.now == nil || m.log == nil {
		return nil, errors.New("session: nil option value")
	}
	return m, nil
}

// OnExpire registers the callback run once per session that times out.
// It runs outside the manager lock.
func (m *Manager) OnExpire(fn func(Session)) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

// IdleTimeout returns the configured session lifetime.
func (m *Manager) IdleTimeout() time.Duration { return m.cfg.IdleTimeout }

// Start opens a session for owner, replacing any session it had.
// The replaced session ends silently: no expiry callback.
func (m *Manager) Start(ctx context.Context, owner string, acc identity.Account) (Session, error) {
	now := m.now()

	tok, err := token.NewOpaque(m.cfg.TokenBytes)
	if err != nil {
		return Session{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	acc.PasswordHash = ""
	s := Session{
		ID:        id,
		Token:     tok,
		Owner:     owner,
		Account:   acc,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.IdleTimeout),
	}
	e := &entry{sess: s, key: m.digest.Hex(tok)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	prev := m.detachLocked(owner)
	m.byOwner[owner] = e
	e.timer = m.sched.AfterFunc(m.cfg.IdleTimeout, func() { m.fire(e) })
	m.mu.Unlock()

	if prev != nil {
		m.mirrorDelete(ctx, prev)
	}
	m.mirrorPut(ctx, e)

	m.log.Info("session.started",
		"session_id", s.ID,
		"owner", owner,
		"username", acc.Username,
		"replaced", prev != nil,
		"expires_at", s.ExpiresAt,
	)
	return s, nil
}

// Get returns owner's live session. A session found past its deadline is
// expired on the spot, exactly as if its timer had fired.
func (m *Manager) Get(owner string) (Session, bool) {
	m.mu.Lock()
	e := m.byOwner[owner]
	return m.liveLocked(e)
}

// liveLocked is entered with m.mu held and releases it.
func (m *Manager) liveLocked(e *entry) (Session, bool) {
	if e == nil {
		m.mu.Unlock()
		return Session{}, false
	}
	if m.now().Before(e.sess.ExpiresAt) {
		s := e.sess
		m.mu.Unlock()
		return s, true
	}
	m.removeLocked(e)
	fn := m.onExpire
	m.mu.Unlock()

	m.expired(e, fn)
	return Session{}, false
}

// End removes owner's session without an expiry callback (logout or
// disconnect). It reports whether there was one.
func (m *Manager) End(ctx context.Context, owner string) (Session, bool) {
	m.mu.Lock()
	e := m.detachLocked(owner)
	m.mu.Unlock()

	if e == nil {
		return Session{}, false
	}
	m.mirrorDelete(ctx, e)
	m.log.Info("session.ended", "session_id", e.sess.ID, "owner", owner, "username", e.sess.Account.Username)
	return e.sess, true
}

// Len returns the number of sessions held, including ones past their
// deadline that nothing has looked at yet.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byOwner)
}

// Close stops every timer and drops every session without callbacks.
// Start fails afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	dropped := make([]*entry, 0, len(m.byOwner))
	for _, e := range m.byOwner {
		e.timer.Stop()
		dropped = append(dropped, e)
	}
	m.byOwner = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range dropped {
		m.mirrorDelete(ctx, e)
	}
	m.log.Info("session.manager.closed", "dropped", len(dropped))
}

func (m *Manager) fire(e *entry) {
	m.mu.Lock()
	if cur := m.byOwner[e.sess.Owner]; cur != e {
		// Replaced, ended or already expired.
		m.mu.Unlock()
		return
	}
	m.removeLocked(e)
	fn := m.onExpire
	m.mu.Unlock()

	m.expired(e, fn)
}

func (m *Manager) expired(e *entry, fn func(Session)) {
	m.mirrorDelete(context.Background(), e)
	m.log.Info("session.expired",
		"session_id", e.sess.ID,
		"owner", e.sess.Owner,
		"username", e.sess.Account.Username,
	)
	if fn != nil {
		fn(e.sess)
	}
}

func (m *Manager) detachLocked(owner string) *entry {
	e := m.byOwner[owner]
	if e == nil {
		return nil
	}
	m.removeLocked(e)
	return e
}

func (m *Manager) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if m.byOwner[e.sess.Owner] == e {
		delete(m.byOwner, e.sess.Owner)
	}
}

func (m *Manager) mirrorPut(ctx context.Context, e *entry) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Put(ctx, e.sess.record(e.key)); err != nil {
		m.log.Warn("session.mirror.put_failed", "session_id", e.sess.ID, "err", err)
	}
}

func (m *Manager) mirrorDelete(ctx context.Context, e *entry) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, e.sess.record(e.key)); err != nil {
		m.log.Warn("session.mirror.delete_failed", "session_id", e.sess.ID, "err", err)
	}
}
