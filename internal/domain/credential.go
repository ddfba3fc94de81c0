package domain

import (
	"context"
	"time"
)

// DefaultTokenTTL lifetime of a security token as issued by the backend
const DefaultTokenTTL = 10 * time.Minute

// Credential the authenticated identity of the current session. Exactly one
// live Credential exists per process; it is owned by the credential store and
// mutated only by the session manager.
type Credential struct {
	CookieHeader  string
	SecurityToken string
	TokenIssuedAt time.Time
	UserID        int64
}

// TokenValid report whether the cached security token is still within its TTL
func (c *Credential) TokenValid(now time.Time, ttl time.Duration) bool {
	if c == nil || c.SecurityToken == "" || c.TokenIssuedAt.IsZero() {
		return false
	}
	return now.Sub(c.TokenIssuedAt) < ttl
}

// HasCookie report whether a session cookie has been captured
func (c *Credential) HasCookie() bool {
	return c != nil && c.CookieHeader != ""
}

type CredentialStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	SetToken(ctx context.Context, token string, issuedAt time.Time) error
	SetCookie(ctx context.Context, cookie string) error
	Clear(ctx context.Context) error
}
