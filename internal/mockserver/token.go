package mockserver

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/mlvik/coursekit/internal/infrastructure/uuid"
)

// ErrTokenExpired the presented security token is past its TTL
var ErrTokenExpired = errors.New("security token expired")

// ErrTokenInvalid the presented security token failed validation
var ErrTokenInvalid = errors.New("security token invalid")

// TokenClaims .
type TokenClaims struct {
	UID int64 `json:"uid"`

	jwt.StandardClaims
}

// TokenIssuer mints and validates the short-lived security tokens the mock
// backend hands out next to the session cookie
type TokenIssuer struct {
	secret  []byte
	method  jwt.SigningMethod
	timeout time.Duration
	idGen   uuid.Generator
}

// NewTokenIssuer create a TokenIssuer instance
func NewTokenIssuer(method, secret string, timeout time.Duration, idGen uuid.Generator) *TokenIssuer {
	var signMethod jwt.SigningMethod
	switch method {
	case "HS256":
		signMethod = jwt.SigningMethodHS256
	case "HS512":
		signMethod = jwt.SigningMethodHS512
	case "ES256":
		signMethod = jwt.SigningMethodES256
	default:
		signMethod = jwt.SigningMethodHS256
	}
	return &TokenIssuer{
		secret:  []byte(secret),
		method:  signMethod,
		timeout: timeout,
		idGen:   idGen,
	}
}

// Issue mint a fresh token for the given user
func (ti *TokenIssuer) Issue(userID int64) (string, error) {
	jti, err := ti.idGen.Generate()
	if err != nil {
		return "", err
	}
	now := time.Now()
	token := jwt.NewWithClaims(ti.method, &TokenClaims{
		UID: userID,
		StandardClaims: jwt.StandardClaims{
			Id:        jti,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ti.timeout).Unix(),
		},
	})
	return token.SignedString(ti.secret)
}

// Validate check a token string and return its claims. Expiry is reported as
// ErrTokenExpired so handlers can answer with the dedicated error code.
func (ti *TokenIssuer) Validate(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
