package authn

import (
	"medgate/cmd/identity"
	"medgate/cmd/internal/auth/session"
)

// Code is the outcome of a login or registration attempt.
type Code int

const (
	CodeSuccess Code = iota
	CodeUserNotExist
	CodePasswordError
	CodeUserExists
	CodeDatabaseError
	CodeInvalidInfo
)

var codeNames = [...]string{
	CodeSuccess:       "success",
	CodeUserNotExist:  "user_not_exist",
	CodePasswordError: "password_error",
	CodeUserExists:    "user_exists",
	CodeDatabaseError: "database_error",
	CodeInvalidInfo:   "invalid_info",
}

var codeMessages = [...]string{
	CodeSuccess:       "ok",
	CodeUserNotExist:  "user does not exist",
	CodePasswordError: "wrong password",
	CodeUserExists:    "username already taken",
	CodeDatabaseError: "storage unavailable, try again later",
	CodeInvalidInfo:   "invalid registration details",
}

// String returns the wire name of the code.
func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return "unknown"
	}
	return codeNames[c]
}

// Message returns a client-facing description.
func (c Code) Message() string {
	if c < 0 || int(c) >= len(codeMessages) {
		return "unknown error"
	}
	return codeMessages[c]
}

// OK reports whether c is CodeSuccess.
func (c Code) OK() bool { return c == CodeSuccess }

// LoginResult is returned by Login. Account and Session are set on success.
type LoginResult struct {
	Code    Code
	Account identity.Account
	Session session.Session
}

// RegisterResult is returned by Register. Field names the first invalid
// input when Code is CodeInvalidInfo.
type RegisterResult struct {
	Code    Code
	Field   identity.Field
	Account identity.Account
}
