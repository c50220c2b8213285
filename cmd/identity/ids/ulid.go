// Package ids provides the id primitives shared by medgate components.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars). A zero now means time.Now.
// ULIDs sort by creation time, which keeps session and request ids ordered in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers with no error path; crypto/rand does not fail in practice.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic(err)
	}
	return id
}

// NewConnID returns a random UUIDv4 for a transport connection.
func NewConnID() string {
	return uuid.NewString()
}

// ParseULID reports whether s is a well-formed ULID.
func ParseULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
