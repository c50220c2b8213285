package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements CredentialStore over PostgreSQL.
//
// The pool is owned by the caller; Close does not close it.
// Table identifiers are schema-qualified and quoted.
type PostgresStore struct {
	pool   PgxPool
	schema string
	users  string
	now    func() time.Time
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "medgate"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users table.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// ValidSchemaName reports whether s is a plain PostgreSQL identifier.
func ValidSchemaName(s string) bool { return pgIdentRe.MatchString(s) }

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool PgxPool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	st.users = pgx.Identifier{st.schema, "users"}.Sanitize()
	return st, nil
}

func (s *PostgresStore) Exists(ctx context.Context, username string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.users+` WHERE username = $1)`,
		username,
	).Scan(&ok)
	if err != nil {
		return false, unavailable("identity.Exists", err)
	}
	return ok, nil
}

func (s *PostgresStore) Insert(ctx context.Context, a Account) (Account, error) {
	const op = "identity.Insert"

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users+` (username, password, identity, gender, age, phone, created_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		a.Username, a.PasswordHash, int(a.Role), string(a.Gender), a.Age, a.Phone, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: string(FieldUsername)}
		}
		return Account{}, unavailable(op, err)
	}
	return a, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, username string) (Account, error) {
	const op = "identity.Lookup"

	var (
		a      Account
		role   int
		gender string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password, identity, gender, age, phone, created_time
		   FROM `+s.users+`
		  WHERE username = $1`,
		username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &role, &gender, &a.Age, &a.Phone, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, notFound(op, username)
		}
		return Account{}, unavailable(op, err)
	}
	a.Role = Role(role)
	a.Gender = canonicalGender(gender)
	return a, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	const op = "identity.UpdatePasswordHash"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users+` SET password = $2 WHERE username = $1`,
		username, hash,
	)
	if err != nil {
		return unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, username)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("identity.Ping", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
