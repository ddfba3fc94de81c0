package credential

import (
	"context"
	"strconv"
	"time"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"go.uber.org/zap"
)

// durable keys owned by this store
const (
	keyToken         = "session:token"
	keyTokenIssuedAt = "session:token_issued_at"
	keyCookie        = "session:cookie"
	keyUserID        = "session:user_id"
)

// Store CredentialStore implementation on a KeyValueDB. The store holds the
// single live Credential of the process; only the session manager writes to it.
type Store struct {
	kv     driver.KeyValueDB
	logger *zap.Logger
}

var _ domain.CredentialStore = &Store{}

// NewStore create a credential store on the given key-value backend
func NewStore(kv driver.KeyValueDB, logger *zap.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger,
	}
}

// Load read the persisted credential. Missing keys yield zero fields, not an
// error.
func (s *Store) Load(ctx context.Context) (*domain.Credential, error) {
	cred := new(domain.Credential)

	token, err := s.get(keyToken)
	if err != nil {
		return nil, err
	}
	cred.SecurityToken = token

	if issuedAt, err := s.get(keyTokenIssuedAt); err != nil {
		return nil, err
	} else if issuedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, issuedAt); err == nil {
			cred.TokenIssuedAt = ts
		} else {
			s.logger.Warn("Discarding unparsable token issue time", zap.String("value", issuedAt))
		}
	}

	cookie, err := s.get(keyCookie)
	if err != nil {
		return nil, err
	}
	cred.CookieHeader = cookie

	if userID, err := s.get(keyUserID); err != nil {
		return nil, err
	} else if userID != "" {
		if id, err := strconv.ParseInt(userID, 10, 64); err == nil {
			cred.UserID = id
		}
	}
	return cred, nil
}

// Save persist every field of the credential
func (s *Store) Save(ctx context.Context, cred *domain.Credential) error {
	if err := s.SetToken(ctx, cred.SecurityToken, cred.TokenIssuedAt); err != nil {
		return err
	}
	if err := s.SetCookie(ctx, cred.CookieHeader); err != nil {
		return err
	}
	return s.kv.Set(keyUserID, strconv.FormatInt(cred.UserID, 10))
}

// SetToken persist the security token together with its issue time
func (s *Store) SetToken(ctx context.Context, token string, issuedAt time.Time) error {
	if token == "" {
		if err := s.kv.Del(keyToken); err != nil {
			return err
		}
		return s.kv.Del(keyTokenIssuedAt)
	}
	if err := s.kv.Set(keyToken, token); err != nil {
		return err
	}
	return s.kv.Set(keyTokenIssuedAt, issuedAt.Format(time.RFC3339Nano))
}

// SetCookie persist the cached cookie header
func (s *Store) SetCookie(ctx context.Context, cookie string) error {
	if cookie == "" {
		return s.kv.Del(keyCookie)
	}
	return s.kv.Set(keyCookie, cookie)
}

// Clear drop every persisted credential key
func (s *Store) Clear(ctx context.Context) error {
	for _, key := range []string{keyToken, keyTokenIssuedAt, keyCookie, keyUserID} {
		if err := s.kv.Del(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) get(key string) (string, error) {
	value, err := s.kv.Get(key)
	if err == driver.ErrKeyNotFound {
		return "", nil
	}
	return value, err
}
