package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements CredentialStore over a SQLite database file.
// It owns the *sql.DB and closes it on Close.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteDB opens path with the pragmas the store expects. The schema is
// applied separately by the migrations package.
func OpenSQLiteDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore wraps an open database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("identity: nil db")
	}
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE username = ?`, username,
	).Scan(&n)
	if err != nil {
		return false, unavailable("identity.Exists", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, a Account) (Account, error) {
	const op = "identity.Insert"

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password, identity, gender, age, phone, created_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Username, a.PasswordHash, int(a.Role), string(a.Gender), a.Age, a.Phone, a.CreatedAt,
	)
	if err != nil {
		if sqliteIsUniqueViolation(err) {
			return Account{}, ConflictError{Op: op, Field: string(FieldUsername)}
		}
		return Account{}, unavailable(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Account{}, unavailable(op, err)
	}
	a.ID = id
	return a, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, username string) (Account, error) {
	const op = "identity.Lookup"

	var (
		a      Account
		role   int
		gender string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, identity, gender, age, phone, created_time
		   FROM users WHERE username = ?`,
		username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &role, &gender, &a.Age, &a.Phone, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, notFound(op, username)
		}
		return Account{}, unavailable(op, err)
	}
	a.Role = Role(role)
	a.Gender = canonicalGender(gender)
	return a, nil
}

func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	const op = "identity.UpdatePasswordHash"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = ? WHERE username = ?`, hash, username,
	)
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return notFound(op, username)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("identity.Ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func sqliteIsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
