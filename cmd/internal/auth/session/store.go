package session

import (
	"context"
	"sync"
	"time"
)

// Record is the mirrored form of a Session. Key is the token digest;
// the plain token is never stored.
type Record struct {
	Key       string    `json:"key"`
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Username  string    `json:"username"`
	Role      int       `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store mirrors live sessions. Implementations must honour ExpiresAt on
// their own so that a crashed process leaves nothing behind.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Record
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.Key] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, rec.Key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key]
	if !ok || !s.now().Before(rec.ExpiresAt) {
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *MemoryStore) Close() error { return nil }
