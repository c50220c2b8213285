package password

import "errors"

// Policy errors surface verbatim as the registration failure reason.
var (
	ErrPasswordTooShort = errors.New("must be at least the minimum length")
	ErrPasswordTooLong  = errors.New("must not exceed the maximum length")
	ErrWeakPassword     = errors.New("is too easy to guess")
)

// ErrInvalidHash means a stored value is neither a PHC argon2id string nor a
// legacy digest. Login treats it as a mismatch.
var ErrInvalidHash = errors.New("unrecognised stored password hash")
