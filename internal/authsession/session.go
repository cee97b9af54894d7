// Package authsession implements the session/auth facade: pure helpers for
// login/whoami/logout/expiry, kept side-effect-free so the connection
// worker remains the sole mutator of its own ConnectionState.
package authsession

import (
	"time"

	"github.com/ashureev/realtime-engine/internal/protocol"
)

// Session is the authenticated identity of one connection.
type Session struct {
	UserID    string
	Roles     []string
	ExpiresAt *time.Time // nil means no expiry
}

// Expired reports whether the session's expiry, if any, is at or before now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !s.ExpiresAt.After(now)
}

// Validator authenticates a token, returning nil (reject) or a freshly
// issued Session. It is the core's only dependency on an identity backend.
type Validator func(token string) (*Session, error)

// PermissionChecker authorizes an operation against resource for session.
// Configured optionally; when absent every audited operation passes.
type PermissionChecker func(session *Session, operation, resource string) bool

// Gate result for auth.login.
type LoginResult struct {
	Session *Session
	Code    protocol.ErrorKind
	Message string
}

// Login calls validate and applies the expiry/rejection rules for auth.login.
func Login(validate Validator, token string, now time.Time) LoginResult {
	session, err := validate(token)
	if err != nil || session == nil {
		return LoginResult{Code: protocol.ErrUnauthorized, Message: "Invalid token"}
	}
	if session.Expired(now) {
		return LoginResult{Code: protocol.ErrUnauthorized, Message: "Token has expired"}
	}
	return LoginResult{Session: session}
}

// WhoamiResult is the payload for auth.whoami. Expired is true when the
// caller must clear its own session. whoami never errors.
type WhoamiResult struct {
	Authenticated bool
	UserID        string
	Roles         []string
	ExpiresAt     *time.Time
	Expired       bool
}

// Whoami computes the auth.whoami response for a (possibly nil or expired)
// session.
func Whoami(session *Session, now time.Time) WhoamiResult {
	if session == nil {
		return WhoamiResult{Authenticated: false}
	}
	if session.Expired(now) {
		return WhoamiResult{Authenticated: false, Expired: true}
	}
	return WhoamiResult{
		Authenticated: true,
		UserID:        session.UserID,
		Roles:         session.Roles,
		ExpiresAt:     session.ExpiresAt,
	}
}

// AuthGateResult is the outcome of the auth gate.
type AuthGateResult struct {
	// Pass is true when the request may proceed to the rate gate.
	Pass bool
	// ClearSession is true when the gate discovered an expired session
	// that the caller must clear from its ConnectionState.
	ClearSession bool
	Code         protocol.ErrorKind
	Message      string
}

// IsExemptOperation reports whether operation bypasses the auth gate:
// types beginning with "auth." and the literal "ping".
func IsExemptOperation(operation string) bool {
	return operation == "ping" || hasAuthPrefix(operation)
}

func hasAuthPrefix(operation string) bool {
	const prefix = "auth."
	return len(operation) >= len(prefix) && operation[:len(prefix)] == prefix
}

// AuthGate evaluates the auth gate for a non-exempt operation. authRequired
// reflects whether the server has auth configured and auth.required != false.
func AuthGate(session *Session, authRequired bool, now time.Time) AuthGateResult {
	if !authRequired {
		return AuthGateResult{Pass: true}
	}
	if session == nil {
		return AuthGateResult{Code: protocol.ErrUnauthorized, Message: "Authentication required"}
	}
	if session.Expired(now) {
		return AuthGateResult{ClearSession: true, Code: protocol.ErrUnauthorized, Message: "Session expired"}
	}
	return AuthGateResult{Pass: true}
}
