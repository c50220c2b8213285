package identity

import (
	"context"
	"sync"
	"time"
)

// CredentialStore is the durable users table keyed by username.
//
// Insert is the only arbiter of uniqueness: it returns a ConflictError when
// the username is taken, however the caller checked beforehand. Lookup
// returns an ErrNotFound OpError for unknown usernames. Other failures are
// ErrUnavailable OpErrors.
type CredentialStore interface {
	Exists(ctx context.Context, username string) (bool, error)
	Insert(ctx context.Context, a Account) (Account, error)
	Lookup(ctx context.Context, username string) (Account, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is a process-local CredentialStore.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[string]Account
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]Account),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Exists(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("identity.Exists", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[username]
	return ok, nil
}

func (s *MemoryStore) Insert(ctx context.Context, a Account) (Account, error) {
	const op = "identity.Insert"
	if err := ctx.Err(); err != nil {
		return Account{}, unavailable(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[a.Username]; ok {
		return Account{}, ConflictError{Op: op, Field: string(FieldUsername)}
	}
	s.nextID++
	a.ID = s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.rows[a.Username] = a
	return a, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, username string) (Account, error) {
	const op = "identity.Lookup"
	if err := ctx.Err(); err != nil {
		return Account{}, unavailable(op, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[username]
	if !ok {
		return Account{}, notFound(op, username)
	}
	return a, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[username]
	if !ok {
		return notFound(op, username)
	}
	a.PasswordHash = hash
	s.rows[username] = a
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
