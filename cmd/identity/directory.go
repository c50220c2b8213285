package identity

import (
	"context"
	"errors"
	"log/slog"
)

// Hasher hashes and verifies stored passwords. password.Config satisfies it.
type Hasher interface {
	PasswordPolicy
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
	NeedsUpgrade(encodedHash string) bool
}

// Directory answers credential questions against a CredentialStore.
type Directory struct {
	store  CredentialStore
	hasher Hasher
	log    *slog.Logger
}

// NewDirectory wires a store and a hasher. A nil logger discards.
func NewDirectory(store CredentialStore, hasher Hasher, log *slog.Logger) (*Directory, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if hasher == nil {
		return nil, errors.New("identity: nil hasher")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Directory{store: store, hasher: hasher, log: log}, nil
}

// Policy returns the password policy applied at registration.
func (d *Directory) Policy() PasswordPolicy { return d.hasher }

// Exists reports whether username is taken.
func (d *Directory) Exists(ctx context.Context, username string) (bool, error) {
	return d.store.Exists(ctx, username)
}

// Insert hashes the password and stores the account.
// A taken username yields a ConflictError.
func (d *Directory) Insert(ctx context.Context, in NewAccount) (Account, error) {
	hash, err := d.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, OpError{Op: "identity.Insert", Kind: ErrInvalidInput, Msg: "password", Err: err}
	}
	return d.store.Insert(ctx, Account{
		Username:     in.Username,
		PasswordHash: hash,
		Role:         in.Role,
		Gender:       in.Gender,
		Age:          in.Age,
		Phone:        in.Phone,
	})
}

// ValidateCredentials returns the account when password matches.
//
// Errors: ErrNotFound for an unknown username, ErrPasswordMismatch for a
// wrong password, ErrUnavailable when the store fails. A matching password
// stored in an outdated format is re-hashed; failures there are logged only.
func (d *Directory) ValidateCredentials(ctx context.Context, username, password string) (Account, error) {
	const op = "identity.ValidateCredentials"

	acc, err := d.store.Lookup(ctx, username)
	if err != nil {
		return Account{}, err
	}

	ok, err := d.hasher.Verify(acc.PasswordHash, password)
	if err != nil {
		// An unreadable stored hash can never match.
		d.log.Warn("identity.hash.unreadable", "username", username, "err", err)
		ok = false
	}
	if !ok {
		return Account{}, OpError{Op: op, Kind: ErrPasswordMismatch}
	}

	if d.hasher.NeedsUpgrade(acc.PasswordHash) {
		d.upgrade(ctx, &acc, password)
	}
	return acc, nil
}

func (d *Directory) upgrade(ctx context.Context, acc *Account, password string) {
	hash, err := d.hasher.Hash(password)
	if err != nil {
		// Accounts created under an older policy may fail the current one.
		d.log.Info("identity.hash.upgrade_skipped", "username", acc.Username, "err", err)
		return
	}
	if err := d.store.UpdatePasswordHash(ctx, acc.Username, hash); err != nil {
		d.log.Warn("identity.hash.upgrade_failed", "username", acc.Username, "err", err)
		return
	}
	acc.PasswordHash = hash
	d.log.Info("identity.hash.upgraded", "username", acc.Username)
}
