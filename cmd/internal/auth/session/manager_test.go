package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/cmd/identity"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// fakeScheduler is a manual clock. Timers fire from Advance, in deadline order.
type fakeScheduler struct {
	mu         sync.Mutex
	now        time.Time
	timers     []*fakeTimer
	ignoreStop bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return &fakeTimerHandle{s: s, t: t}
}

type fakeTimerHandle struct {
	s *fakeScheduler
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.s.ignoreStop || h.t.fired || h.t.stopped {
		return false
	}
	h.t.stopped = true
	return true
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// fireAll runs every timer ever armed, stopped or not.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	all := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type expiryLog struct {
	mu   sync.Mutex
	got  []Session
	hits atomic.Int32
}

func (l *expiryLog) record(s Session) {
	l.mu.Lock()
	l.got = append(l.got, s)
	l.mu.Unlock()
	l.hits.Add(1)
}

func alice() identity.Account {
	return identity.Account{ID: 1, Username: "alice123", PasswordHash: "secret-hash", Role: identity.RolePatient}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeScheduler, *expiryLog) {
	t.Helper()
	fs := newFakeScheduler()
	base := []Option{WithScheduler(fs), WithClock(fs.Now)}
	m, err := NewManager(DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)

	log := &expiryLog{}
	m.OnExpire(log.record)
	return m, fs, log
}

func TestManager_StartAndGet(t *testing.T) {
	t.Parallel()
	m, fs, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.Token)
	assert.Empty(t, s.Account.PasswordHash, "hash must not travel with the session")
	assert.Equal(t, fs.Now().Add(30*time.Minute), s.ExpiresAt)

	got, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)

	_, ok = m.Get("conn-2")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestManager_ExpiresOnceAtDeadline(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)

	s, err := m.Start(context.Background(), "conn-1", alice())
	require.NoError(t, err)

	fs.Advance(30*time.Minute - time.Second)
	_, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Zero(t, log.hits.Load())

	fs.Advance(time.Second)
	_, ok = m.Get("conn-1")
	assert.False(t, ok)
	require.EqualValues(t, 1, log.hits.Load())
	assert.Equal(t, s.ID, log.got[0].ID)

	fs.Advance(time.Hour)
	fs.fireAll()
	assert.EqualValues(t, 1, log.hits.Load())
	assert.Zero(t, m.Len())
}

func TestManager_ReloginResetsTimer(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)

	fs.Advance(20 * time.Minute)
	second, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	cur, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID, "relogin replaces the session")

	fs.Advance(15 * time.Minute) // T0+35m
	_, ok = m.Get("conn-1")
	require.True(t, ok)
	assert.Zero(t, log.hits.Load())

	fs.Advance(15 * time.Minute) // T0+50m
	_, ok = m.Get("conn-1")
	assert.False(t, ok)
	assert.EqualValues(t, 1, log.hits.Load())
	assert.Equal(t, second.ID, log.got[0].ID)
}

func TestManager_StaleTimerIsNoop(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)
	fs.ignoreStop = true
	ctx := context.Background()

	_, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	second, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)

	// Both timers run, as if the first had already been in flight when replaced.
	fs.timers[0].f()
	got, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
	assert.Zero(t, log.hits.Load())
}

func TestManager_LazyExpiryWithoutTimer(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)

	_, err := m.Start(context.Background(), "conn-1", alice())
	require.NoError(t, err)

	// Move the clock without delivering timers.
	fs.mu.Lock()
	fs.now = fs.now.Add(31 * time.Minute)
	fs.mu.Unlock()

	_, ok := m.Get("conn-1")
	assert.False(t, ok)
	assert.EqualValues(t, 1, log.hits.Load())

	fs.fireAll()
	assert.EqualValues(t, 1, log.hits.Load(), "timer after lazy expiry must not fire again")
}

func TestManager_EndIsSilentAndIdempotent(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)

	ended, ok := m.End(ctx, "conn-1")
	require.True(t, ok)
	assert.Equal(t, s.ID, ended.ID)

	_, ok = m.End(ctx, "conn-1")
	assert.False(t, ok)

	fs.Advance(time.Hour)
	assert.Zero(t, log.hits.Load())
	assert.Zero(t, m.Len())
}

func TestManager_OwnersAreIndependent(t *testing.T) {
	t.Parallel()
	m, fs, log := newTestManager(t)
	ctx := context.Background()

	_, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	fs.Advance(10 * time.Minute)
	_, err = m.Start(ctx, "conn-2", alice())
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	fs.Advance(20 * time.Minute)
	_, ok := m.Get("conn-1")
	assert.False(t, ok)
	_, ok = m.Get("conn-2")
	assert.True(t, ok)
	assert.EqualValues(t, 1, log.hits.Load())
	assert.Equal(t, "conn-1", log.got[0].Owner)
}

func TestManager_Close(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	m, fs, log := newTestManager(t, WithStore(store))
	ctx := context.Background()

	_, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	m.Close(ctx)
	m.Close(ctx)
	assert.Zero(t, m.Len())
	assert.Zero(t, store.Len())

	fs.Advance(time.Hour)
	assert.Zero(t, log.hits.Load())

	_, err = m.Start(ctx, "conn-1", alice())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_MirrorsIntoStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	m, fs, _ := newTestManager(t, WithStore(store))
	store.now = fs.Now
	ctx := context.Background()

	first, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	firstKey := m.digest.Hex(first.Token)

	rec, err := store.Get(ctx, firstKey)
	require.NoError(t, err)
	assert.Equal(t, "alice123", rec.Username)
	assert.Equal(t, first.ID, rec.ID)
	assert.NotEqual(t, first.Token, rec.Key, "plain token must not be the key")

	second, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	_, err = store.Get(ctx, firstKey)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, store.Len())

	fs.Advance(30 * time.Minute)
	_, err = store.Get(ctx, m.digest.Hex(second.Token))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, store.Len())
}

type brokenStore struct{ MemoryStore }

func (*brokenStore) Put(context.Context, Record) error    { return errors.New("mirror down") }
func (*brokenStore) Delete(context.Context, Record) error { return errors.New("mirror down") }

func TestManager_MirrorFailureDoesNotFailLogin(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestManager(t, WithStore(&brokenStore{}))
	ctx := context.Background()

	_, err := m.Start(ctx, "conn-1", alice())
	require.NoError(t, err)
	_, ok := m.End(ctx, "conn-1")
	assert.True(t, ok)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	_, err := NewManager(cfg)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestManager_WallClockTimerFires(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	m, err := NewManager(cfg)
	require.NoError(t, err)

	done := make(chan Session, 1)
	m.OnExpire(func(s Session) { done <- s })

	s, err := m.Start(context.Background(), "conn-1", alice())
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, s.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, m.Len())
}
