package password

import (
	"strings"
	"unicode/utf8"
)

// Validate checks the length policy, and the weak-pattern list when enabled.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

var trivialPasswords = map[string]struct{}{
	"password":  {},
	"123456":    {},
	"1234567":   {},
	"12345678":  {},
	"123456789": {},
	"qwerty":    {},
	"qwerty123": {},
	"abc123":    {},
	"111111":    {},
}

// looksVeryWeak rejects a single repeated character and a short list of
// common passwords. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	_, common := trivialPasswords[strings.ToLower(s)]
	return common
}
