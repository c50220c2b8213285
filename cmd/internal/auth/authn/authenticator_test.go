package authn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/session"
	"medgate/cmd/security/password"
)

// manualClock delivers session timers when Advance crosses their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at   time.Time
	f    func()
	done bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.done
	t.done = true
	return wasActive
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) session.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleAuthEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds(k EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	auth  *Authenticator
	store *identity.MemoryStore
	clock *manualClock
	rec   *recorder
}

func cheapHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, identity.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store identity.CredentialStore) *fixture {
	t.Helper()

	dir, err := identity.NewDirectory(store, cheapHasher(), nil)
	require.NoError(t, err)

	clock := &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	mgr, err := session.NewManager(session.DefaultConfig(),
		session.WithScheduler(clock),
		session.WithClock(clock.Now),
	)
	require.NoError(t, err)

	rec := &recorder{}
	a, err := New(dir, mgr, nil, rec)
	require.NoError(t, err)

	mem, _ := store.(*identity.MemoryStore)
	return &fixture{auth: a, store: mem, clock: clock, rec: rec}
}

func aliceRegistration() identity.Registration {
	return identity.Registration{
		Username: "alice123",
		Password: "secret123",
		Identity: "patient",
		Gender:   "female",
		Age:      30,
		Phone:    "13800138000",
	}
}

func TestAuthenticator_Scenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	reg := f.auth.Register(ctx, aliceRegistration())
	require.Equal(t, CodeSuccess, reg.Code)
	assert.Empty(t, reg.Account.PasswordHash)

	_, _, ok := f.auth.CurrentUser("conn-1")
	assert.False(t, ok, "register must not start a session")

	res := f.auth.Login(ctx, "conn-1", "alice123", "wrongpass")
	assert.Equal(t, CodePasswordError, res.Code)
	_, _, ok = f.auth.CurrentUser("conn-1")
	assert.False(t, ok)

	res = f.auth.Login(ctx, "conn-1", "alice123", "secret123")
	require.Equal(t, CodeSuccess, res.Code)
	assert.Equal(t, "patient", res.Account.Role.UserType())

	acc, sess, ok := f.auth.CurrentUser("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice123", acc.Username)
	assert.Equal(t, res.Session.ID, sess.ID)

	again := f.auth.Register(ctx, aliceRegistration())
	assert.Equal(t, CodeUserExists, again.Code)

	assert.Len(t, f.rec.kinds(EventRegistered), 1)
	assert.Len(t, f.rec.kinds(EventRegisterFailed), 1)
	assert.Len(t, f.rec.kinds(EventLoginFailed), 1)
	assert.Len(t, f.rec.kinds(EventLoginSucceeded), 1)
}

func TestAuthenticator_UnknownUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, pw := range []string{"secret123", "", "x"} {
		res := f.auth.Login(ctx, "conn-1", "ghost", pw)
		assert.Equal(t, CodeUserNotExist, res.Code, "password %q", pw)
	}
	assert.Equal(t, CodeUserNotExist, f.auth.Login(ctx, "conn-1", "", "secret123").Code)
}

func TestAuthenticator_WrongPasswordKeepsExistingSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	first := f.auth.Login(ctx, "conn-1", "alice123", "secret123")
	require.Equal(t, CodeSuccess, first.Code)

	assert.Equal(t, CodePasswordError, f.auth.Login(ctx, "conn-1", "alice123", "nope-nope").Code)

	_, sess, ok := f.auth.CurrentUser("conn-1")
	require.True(t, ok)
	assert.Equal(t, first.Session.ID, sess.ID)
}

func TestAuthenticator_LogoutIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	require.Equal(t, CodeSuccess, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)

	assert.True(t, f.auth.Logout(ctx, "conn-1"))
	assert.False(t, f.auth.Logout(ctx, "conn-1"))
	_, _, ok := f.auth.CurrentUser("conn-1")
	assert.False(t, ok)
	assert.Len(t, f.rec.kinds(EventLoggedOut), 1)

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.rec.kinds(EventSessionExpired), "logout disarms the timer")
}

func TestAuthenticator_RegisterRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := identity.Registration{
		Username: "dr_wang", Password: "stethoscope", Identity: "医生",
		Gender: "男", Age: 120, Phone: "19912345678",
	}
	require.Equal(t, CodeSuccess, f.auth.Register(ctx, in).Code)

	res := f.auth.Login(ctx, "conn-7", "dr_wang", "stethoscope")
	require.Equal(t, CodeSuccess, res.Code)
	assert.Equal(t, identity.RolePractitioner, res.Account.Role)
	assert.Equal(t, "doctor", res.Account.Role.UserType())
	assert.Equal(t, identity.GenderMale, res.Account.Gender)
	assert.Equal(t, 120, res.Account.Age)
	assert.Equal(t, "19912345678", res.Account.Phone)
}

func TestAuthenticator_RegisterInvalidPersistsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		mutate func(*identity.Registration)
		field  identity.Field
	}{
		{func(r *identity.Registration) { r.Username = "ab" }, identity.FieldUsername},
		{func(r *identity.Registration) { r.Password = "12345" }, identity.FieldPassword},
		{func(r *identity.Registration) { r.Gender = "unknown" }, identity.FieldGender},
		{func(r *identity.Registration) { r.Age = 0 }, identity.FieldAge},
		{func(r *identity.Registration) { r.Age = 121 }, identity.FieldAge},
		{func(r *identity.Registration) { r.Phone = "12345" }, identity.FieldPhone},
	}
	for _, tt := range tests {
		in := aliceRegistration()
		tt.mutate(&in)
		res := f.auth.Register(ctx, in)
		assert.Equal(t, CodeInvalidInfo, res.Code)
		assert.Equal(t, tt.field, res.Field)
	}

	ok, err := f.store.Exists(ctx, "alice123")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, CodeUserNotExist, f.auth.Login(ctx, "c", "ab", "12345").Code)
}

func TestAuthenticator_ConcurrentRegisterOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	in := aliceRegistration()
	in.Username = "bob"

	const n = 2
	codes := make([]Code, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.auth.Register(ctx, in).Code
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, c := range codes {
		if c == CodeSuccess {
			wins++
		} else {
			assert.Equal(t, CodeUserExists, c)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestAuthenticator_SessionTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	require.Equal(t, CodeSuccess, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)

	f.clock.Advance(29 * time.Minute)
	_, _, ok := f.auth.CurrentUser("conn-1")
	require.True(t, ok)

	f.clock.Advance(time.Minute)
	_, _, ok = f.auth.CurrentUser("conn-1")
	assert.False(t, ok)

	expired := f.rec.kinds(EventSessionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "conn-1", expired[0].Owner)
	assert.Equal(t, "alice123", expired[0].Username)

	f.clock.Advance(time.Hour)
	assert.Len(t, f.rec.kinds(EventSessionExpired), 1)
}

func TestAuthenticator_ReloginResetsTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	require.Equal(t, CodeSuccess, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)

	f.clock.Advance(25 * time.Minute)
	require.Equal(t, CodeSuccess, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)

	f.clock.Advance(25 * time.Minute)
	_, _, ok := f.auth.CurrentUser("conn-1")
	assert.True(t, ok)
	assert.Empty(t, f.rec.kinds(EventSessionExpired))

	f.clock.Advance(5 * time.Minute)
	assert.Len(t, f.rec.kinds(EventSessionExpired), 1)
}

func TestAuthenticator_EndIsSilent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	require.Equal(t, CodeSuccess, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)

	f.auth.End(ctx, "conn-1")
	f.clock.Advance(time.Hour)
	assert.Empty(t, f.rec.kinds(EventSessionExpired))
	assert.Empty(t, f.rec.kinds(EventLoggedOut))
}

type downStore struct{ *identity.MemoryStore }

var errDown = errors.New("database is locked")

func (downStore) Lookup(context.Context, string) (identity.Account, error) {
	return identity.Account{}, identity.OpError{Op: "identity.Lookup", Kind: identity.ErrUnavailable, Err: errDown}
}

func (downStore) Exists(context.Context, string) (bool, error) {
	return false, identity.OpError{Op: "identity.Exists", Kind: identity.ErrUnavailable, Err: errDown}
}

func TestAuthenticator_StoreFailureIsDatabaseError(t *testing.T) {
	t.Parallel()
	f := newFixtureWithStore(t, downStore{identity.NewMemoryStore()})
	ctx := context.Background()

	assert.Equal(t, CodeDatabaseError, f.auth.Login(ctx, "conn-1", "alice123", "secret123").Code)
	assert.Equal(t, CodeDatabaseError, f.auth.Register(ctx, aliceRegistration()).Code)

	failed := f.rec.kinds(EventLoginFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, errDown)
}

type racingStore struct{ *identity.MemoryStore }

// Exists always says no, so only Insert can detect the duplicate.
func (racingStore) Exists(context.Context, string) (bool, error) { return false, nil }

func TestAuthenticator_InsertConflictIsUserExists(t *testing.T) {
	t.Parallel()
	f := newFixtureWithStore(t, racingStore{identity.NewMemoryStore()})
	ctx := context.Background()

	require.Equal(t, CodeSuccess, f.auth.Register(ctx, aliceRegistration()).Code)
	assert.Equal(t, CodeUserExists, f.auth.Register(ctx, aliceRegistration()).Code)
}

func TestMetricsListener(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetricsListener(reg)

	m.HandleAuthEvent(Event{Kind: EventLoginSucceeded, Code: CodeSuccess})
	m.HandleAuthEvent(Event{Kind: EventLoginFailed, Code: CodePasswordError})
	m.HandleAuthEvent(Event{Kind: EventLoginFailed, Code: CodePasswordError})
	m.HandleAuthEvent(Event{Kind: EventRegisterFailed, Code: CodeInvalidInfo})
	m.HandleAuthEvent(Event{Kind: EventSessionExpired})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Logins.WithLabelValues("password_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("invalid_info")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Expirations))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Logouts))

	n := 3
	RegisterActiveSessions(reg, func() int { return n })
	count, err := testutil.GatherAndCount(reg, "medgate_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCode_Names(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "user_not_exist", CodeUserNotExist.String())
	assert.Equal(t, "invalid_info", CodeInvalidInfo.String())
	assert.Equal(t, "unknown", Code(99).String())
	assert.True(t, CodeSuccess.OK())
	assert.NotEmpty(t, CodeDatabaseError.Message())
}
