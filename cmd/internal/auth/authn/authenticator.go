package authn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/session"
)

// Directory is the credential boundary. *identity.Directory satisfies it.
type Directory interface {
	Exists(ctx context.Context, username string) (bool, error)
	Insert(ctx context.Context, in identity.NewAccount) (identity.Account, error)
	ValidateCredentials(ctx context.Context, username, password string) (identity.Account, error)
	Policy() identity.PasswordPolicy
}

// Sessions is the session arena. *session.Manager satisfies it.
type Sessions interface {
	Start(ctx context.Context, owner string, acc identity.Account) (session.Session, error)
	Get(owner string) (session.Session, bool)
	End(ctx context.Context, owner string) (session.Session, bool)
	OnExpire(fn func(session.Session))
}

// Authenticator runs login and registration and owns each connection's
// session transitions. It is safe for concurrent use; callers serialise
// requests per owner.
type Authenticator struct {
	dir      Directory
	sessions Sessions
	log      *slog.Logger
	now      func() time.Time
	events   hub
}

// New wires an Authenticator and subscribes it to session expiry.
func New(dir Directory, sessions Sessions, log *slog.Logger, listeners ...Listener) (*Authenticator, error) {
	if dir == nil {
		return nil, errors.New("authn: nil directory")
	}
	if sessions == nil {
		return nil, errors.New("authn: nil session manager")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	a := &Authenticator{
		dir:      dir,
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
	for _, l := range listeners {
		a.Subscribe(l)
	}
	sessions.OnExpire(a.sessionExpired)
	return a, nil
}

// Subscribe adds a listener. Listeners added later do not see earlier events.
func (a *Authenticator) Subscribe(l Listener) {
	if l != nil {
		a.events.add(l)
	}
}

// Login checks credentials and, on success, replaces owner's session with a
// fresh one. Failures leave the session state untouched.
func (a *Authenticator) Login(ctx context.Context, owner, username, password string) LoginResult {
	if username == "" || password == "" {
		return a.loginFailed(owner, username, CodeUserNotExist, nil)
	}

	acc, err := a.dir.ValidateCredentials(ctx, username, password)
	switch {
	case err == nil:
	case identity.IsNotFound(err):
		return a.loginFailed(owner, username, CodeUserNotExist, nil)
	case identity.IsPasswordMismatch(err):
		return a.loginFailed(owner, username, CodePasswordError, nil)
	default:
		return a.loginFailed(owner, username, CodeDatabaseError, err)
	}

	sess, err := a.sessions.Start(ctx, owner, acc)
	if err != nil {
		return a.loginFailed(owner, username, CodeDatabaseError, err)
	}

	a.events.emit(Event{
		Kind:      EventLoginSucceeded,
		Owner:     owner,
		Username:  acc.Username,
		Code:      CodeSuccess,
		Role:      acc.Role,
		SessionID: sess.ID,
		At:        a.now(),
	})
	return LoginResult{Code: CodeSuccess, Account: sess.Account, Session: sess}
}

func (a *Authenticator) loginFailed(owner, username string, code Code, err error) LoginResult {
	a.events.emit(Event{
		Kind:     EventLoginFailed,
		Owner:    owner,
		Username: username,
		Code:     code,
		At:       a.now(),
		Err:      err,
	})
	return LoginResult{Code: code}
}

// Register validates in, then creates the account. It never starts a
// session. Validation runs before any store access.
func (a *Authenticator) Register(ctx context.Context, in identity.Registration) RegisterResult {
	na, err := in.Validate(a.dir.Policy())
	if err != nil {
		var ve identity.ValidationError
		if errors.As(err, &ve) {
			return a.registerFailed(in.Username, CodeInvalidInfo, ve.Field, nil)
		}
		return a.registerFailed(in.Username, CodeInvalidInfo, "", nil)
	}

	exists, err := a.dir.Exists(ctx, na.Username)
	if err != nil {
		return a.registerFailed(na.Username, CodeDatabaseError, "", err)
	}
	if exists {
		return a.registerFailed(na.Username, CodeUserExists, "", nil)
	}

	acc, err := a.dir.Insert(ctx, na)
	if err != nil {
		if identity.IsConflict(err) {
			// Lost a race with a concurrent registration.
			return a.registerFailed(na.Username, CodeUserExists, "", nil)
		}
		return a.registerFailed(na.Username, CodeDatabaseError, "", err)
	}

	a.events.emit(Event{
		Kind:     EventRegistered,
		Username: acc.Username,
		Code:     CodeSuccess,
		Role:     acc.Role,
		At:       a.now(),
	})
	acc.PasswordHash = ""
	return RegisterResult{Code: CodeSuccess, Account: acc}
}

func (a *Authenticator) registerFailed(username string, code Code, field identity.Field, err error) RegisterResult {
	a.events.emit(Event{
		Kind:     EventRegisterFailed,
		Username: username,
		Code:     code,
		Field:    field,
		At:       a.now(),
		Err:      err,
	})
	return RegisterResult{Code: code, Field: field}
}

// Logout clears owner's session. Calling it without a session is a no-op.
// It reports whether a session was cleared.
func (a *Authenticator) Logout(ctx context.Context, owner string) bool {
	s, ok := a.sessions.End(ctx, owner)
	if !ok {
		return false
	}
	a.events.emit(Event{
		Kind:      EventLoggedOut,
		Owner:     owner,
		Username:  s.Account.Username,
		Role:      s.Account.Role,
		SessionID: s.ID,
		At:        a.now(),
	})
	return true
}

// CurrentUser returns owner's logged-in account, if any.
func (a *Authenticator) CurrentUser(owner string) (identity.Account, session.Session, bool) {
	s, ok := a.sessions.Get(owner)
	if !ok {
		return identity.Account{}, session.Session{}, false
	}
	return s.Account, s, true
}

// End drops owner's session because the connection went away.
// No event is published.
func (a *Authenticator) End(ctx context.Context, owner string) {
	if s, ok := a.sessions.End(ctx, owner); ok {
		a.log.Debug("auth.session.dropped", "owner", owner, "session_id", s.ID)
	}
}

func (a *Authenticator) sessionExpired(s session.Session) {
	a.events.emit(Event{
		Kind:      EventSessionExpired,
		Owner:     s.Owner,
		Username:  s.Account.Username,
		Role:      s.Account.Role,
		SessionID: s.ID,
		At:        a.now(),
	})
}
