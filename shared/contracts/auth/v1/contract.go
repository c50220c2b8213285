// Package v1 defines the medgate account protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server, the smoke client and tests to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subprotocol is the WebSocket subprotocol negotiated on /ws.
const Subprotocol = "medgate.auth.v1"

// Inbound actions (client -> server).
const (
	ActionLogin    = "login"
	ActionRegister = "register"
	ActionLogout   = "logout"
	ActionWhoami   = "whoami"
)

// Outbound actions (server -> client).
const (
	ActionLoginResponse    = "login_response"
	ActionRegisterResponse = "register_response"
	ActionLogoutResponse   = "logout_response"
	ActionWhoamiResponse   = "whoami_response"
	ActionSessionExpired   = "session_expired"
	ActionError            = "error"
)

// ResponseAction maps an inbound action to its response action.
// Unknown actions map to ActionError.
func ResponseAction(action string) string {
	switch action {
	case ActionLogin:
		return ActionLoginResponse
	case ActionRegister:
		return ActionRegisterResponse
	case ActionLogout:
		return ActionLogoutResponse
	case ActionWhoami:
		return ActionWhoamiResponse
	default:
		return ActionError
	}
}

// Known reports whether action is an inbound action the server dispatches.
func Known(action string) bool {
	switch action {
	case ActionLogin, ActionRegister, ActionLogout, ActionWhoami:
		return true
	default:
		return false
	}
}

// Result codes carried in Response.Code.
const (
	CodeSuccess       = "success"
	CodeUserNotExist  = "user_not_exist"
	CodePasswordError = "password_error"
	CodeUserExists    = "user_exists"
	CodeDatabaseError = "database_error"
	CodeInvalidInfo   = "invalid_info"
	CodeNotLoggedIn   = "not_logged_in"
)

// Protocol error codes carried in error frames.
const (
	ErrCodeBadJSON         = "bad_json"
	ErrCodeUnknownAction   = "unknown_action"
	ErrCodeBadPayload      = "bad_payload"
	ErrCodeRequestInFlight = "request_in_flight"
	ErrCodeFrameTooLarge   = "frame_too_large"
	ErrCodeUnavailable     = "unavailable"
)

// User types reported to clients.
const (
	UserTypePatient = "patient"
	UserTypeDoctor  = "doctor"
)

// Request is one inbound frame.
type Request struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Validate checks the envelope shape. It does not look at Data.
func (r Request) Validate() error {
	action := strings.TrimSpace(r.Action)
	if action == "" {
		return errors.New("missing action")
	}
	if !Known(action) {
		return fmt.Errorf("unknown action: %s", action)
	}
	if len(r.ID) > MaxClientIDLen {
		return fmt.Errorf("id too long: max=%d", MaxClientIDLen)
	}
	return nil
}

// MaxClientIDLen bounds the optional client-supplied correlation id.
const MaxClientIDLen = 64

// Response is one outbound frame. Fields beyond Action are optional so that
// the login response stays compatible with clients of the original protocol:
//
//	{"action":"login_response","success":true,"message":"...","userType":"patient"}
type Response struct {
	Action    string     `json:"action"`
	ID        string     `json:"id,omitempty"`
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Code      string     `json:"code,omitempty"`
	UserType  string     `json:"userType,omitempty"`
	Username  string     `json:"username,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	Age       int        `json:"age,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Field     string     `json:"field,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
