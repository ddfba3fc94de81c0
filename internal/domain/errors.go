package domain

import (
	"errors"
	"fmt"
)

// AuthReason classifies why a login attempt failed
type AuthReason string

const (
	AuthReasonInvalidCredentials AuthReason = "invalid_credentials"
	AuthReasonNetwork            AuthReason = "network"
	AuthReasonBackendUnreachable AuthReason = "backend_unreachable"
)

// AuthError login failed on every candidate endpoint
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login failed (%s): %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("login failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// SessionExpiredError the security token was rejected and the
// refresh-then-retry protocol did not recover. Terminal for the current
// request; the caller must force re-authentication.
type SessionExpiredError struct {
	Path   string
	Status int
}

func (e *SessionExpiredError) Error() string {
	return "session expired: re-authentication required"
}

// NetworkError transport-level failure, no HTTP response was obtained
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %s", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BackendError any other non-2xx response, surfaced verbatim for caller
// inspection
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// ErrNoPendingLesson implicit completion was requested but every lesson in the
// course is already complete
var ErrNoPendingLesson = errors.New("no pending lesson: course is already fully completed")

// ErrNotAuthenticated a token refresh was attempted without a session cookie
var ErrNotAuthenticated = errors.New("no session cookie: cannot refresh an unauthenticated session")

// ErrTokenRefreshFailed every refresh endpoint was exhausted without
// obtaining a token
var ErrTokenRefreshFailed = errors.New("token refresh failed on all endpoints")
