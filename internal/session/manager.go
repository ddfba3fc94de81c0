package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mlvik/coursekit/internal/domain"
	"go.uber.org/zap"
)

// Endpoint one candidate backend route of a fallback chain
type Endpoint struct {
	Method string
	Path   string
}

// login candidates, tried in order until one yields a usable session
var defaultLoginEndpoints = []Endpoint{
	{http.MethodPost, "/api/v1/user/login"},
	{http.MethodPost, "/api/v1/auth/login"},
}

// refresh candidates. GET "give me a token" endpoints come first, the POST
// refresh endpoint is a compatibility fallback for older backends.
var defaultRefreshEndpoints = []Endpoint{
	{http.MethodGet, "/api/v1/auth/token"},
	{http.MethodGet, "/api/v1/user/token"},
	{http.MethodPost, "/api/v1/auth/refresh"},
}

const whoAmIPath = "/api/v1/user/me"

// Config options for the session manager
type Config struct {
	BaseURL     string
	TokenHeader string        // header name carrying the security token
	TokenTTL    time.Duration // security token lifetime
	Timeout     time.Duration // per request timeout
}

// Manager owns the authenticated session lifecycle: login, cookie
// synchronization, token acquisition/refresh and logout. All credential
// mutation in the process goes through this type.
type Manager struct {
	baseURL          string
	tokenHeader      string
	ttl              time.Duration
	hc               *http.Client
	store            domain.CredentialStore
	logger           *zap.Logger
	loginEndpoints   []Endpoint
	refreshEndpoints []Endpoint
	now              func() time.Time

	mu      sync.Mutex
	cred    domain.Credential
	refresh *refreshCall
}

// refreshCall a single in-flight refresh shared by every concurrent
// EnsureToken caller
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// NewManager create a session manager
func NewManager(cfg *Config, store domain.CredentialStore, logger *zap.Logger) *Manager {
	jar, _ := cookiejar.New(nil)
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = domain.DefaultTokenTTL
	}
	return &Manager{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenHeader: cfg.TokenHeader,
		ttl:         ttl,
		hc: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		store:            store,
		logger:           logger,
		loginEndpoints:   defaultLoginEndpoints,
		refreshEndpoints: defaultRefreshEndpoints,
		now:              time.Now,
	}
}

// Restore load any persisted credential into memory, typically at app start
func (m *Manager) Restore(ctx context.Context) error {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cred = *cred
	m.mu.Unlock()
	return nil
}

// Credential snapshot of the current credential
func (m *Manager) Credential() *domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred := m.cred
	return &cred
}

// CookieHeader the cached session cookie string, may be empty
func (m *Manager) CookieHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.CookieHeader
}

// TokenHeader the configured security token header name
func (m *Manager) TokenHeader() string {
	return m.tokenHeader
}

type loginResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
	User  struct {
		ID int64 `json:"id"`
	} `json:"user"`
}

// Login establish a fresh session. Any existing cookie state is discarded
// first. Candidate login endpoints are tried in order; the first one returning
// a well-formed success body wins. The new session is verified with a whoAmI
// call before it is reported usable.
func (m *Manager) Login(ctx context.Context, identifier, secret string) (*domain.Credential, error) {
	jar, _ := cookiejar.New(nil)
	m.hc.Jar = jar

	body, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"secret":     secret,
	})
	if err != nil {
		return nil, err
	}

	var (
		resp        *loginResponse
		sawResponse bool
	)
	for _, ep := range m.loginEndpoints {
		candidate, gotResponse, err := m.tryLogin(ctx, ep, body)
		sawResponse = sawResponse || gotResponse
		if err != nil {
			m.logger.Debug("Login candidate failed",
				zap.String("url.path", ep.Path),
				zap.Error(err),
			)
			continue
		}
		resp = candidate
		break
	}
	if resp == nil {
		reason := domain.AuthReasonBackendUnreachable
		if sawResponse {
			reason = domain.AuthReasonInvalidCredentials
		}
		return nil, &domain.AuthError{Reason: reason}
	}

	cred := domain.Credential{
		CookieHeader:  m.cookieHeaderFromJar(),
		SecurityToken: resp.Token,
		TokenIssuedAt: m.now(),
		UserID:        resp.User.ID,
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	if err := m.store.Save(ctx, &cred); err != nil {
		return nil, err
	}

	// the login body alone proves nothing, confirm the session is usable
	if _, err := m.WhoAmI(ctx); err != nil {
		if _, ok := err.(*domain.NetworkError); ok {
			return nil, &domain.AuthError{Reason: domain.AuthReasonNetwork, Err: err}
		}
		return nil, &domain.AuthError{Reason: domain.AuthReasonInvalidCredentials, Err: err}
	}

	m.logger.Info("Session established", zap.Int64("user.id", cred.UserID))
	return &cred, nil
}

func (m *Manager) tryLogin(ctx context.Context, ep Endpoint, body []byte) (*loginResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, ep.Method, m.baseURL+ep.Path, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := m.hc.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, true, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, true, fmt.Errorf("login endpoint returned %d", res.StatusCode)
	}
	parsed := new(loginResponse)
	if err := json.Unmarshal(raw, parsed); err != nil {
		return nil, true, fmt.Errorf("malformed login body: %w", err)
	}
	if !parsed.OK || parsed.Token == "" {
		return nil, true, fmt.Errorf("login body missing token")
	}
	return parsed, true, nil
}

// EnsureToken return a security token valid for the configured TTL. The
// cached token is reused while it lives unless force is set. Concurrent
// callers share a single in-flight refresh; they all observe the same token
// or the same failure.
func (m *Manager) EnsureToken(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	if !force && m.cred.TokenValid(m.now(), m.ttl) {
		token := m.cred.SecurityToken
		m.mu.Unlock()
		return token, nil
	}
	if m.refresh != nil {
		call := m.refresh
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.refresh = call
	m.mu.Unlock()

	token, err := m.doRefresh(ctx)
	call.token, call.err = token, err

	m.mu.Lock()
	m.refresh = nil
	m.mu.Unlock()
	close(call.done)
	return token, err
}

type refreshResponse struct {
	Token string `json:"token"`
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	cookie := m.refreshCookie(ctx)
	if cookie == "" {
		return "", domain.ErrNotAuthenticated
	}

	for _, ep := range m.refreshEndpoints {
		token, err := m.tryRefresh(ctx, ep, cookie)
		if err != nil {
			m.logger.Debug("Refresh candidate failed",
				zap.String("url.path", ep.Path),
				zap.Error(err),
			)
			continue
		}
		issuedAt := m.now()
		m.mu.Lock()
		m.cred.SecurityToken = token
		m.cred.TokenIssuedAt = issuedAt
		m.mu.Unlock()
		if err := m.store.SetToken(ctx, token, issuedAt); err != nil {
			m.logger.Warn("Failed to persist refreshed token", zap.Error(err))
		}
		return token, nil
	}

	// exhausted, drop the stale token so nobody keeps sending it
	m.mu.Lock()
	m.cred.SecurityToken = ""
	m.cred.TokenIssuedAt = time.Time{}
	m.mu.Unlock()
	if err := m.store.SetToken(ctx, "", time.Time{}); err != nil {
		m.logger.Warn("Failed to clear persisted token", zap.Error(err))
	}
	return "", domain.ErrTokenRefreshFailed
}

// refreshCookie find a cookie to refresh with: cached credential first, then
// the persisted store, then the live cookie jar
func (m *Manager) refreshCookie(ctx context.Context) string {
	m.mu.Lock()
	cookie := m.cred.CookieHeader
	m.mu.Unlock()
	if cookie != "" {
		return cookie
	}
	if cred, err := m.store.Load(ctx); err == nil && cred.HasCookie() {
		m.mu.Lock()
		m.cred.CookieHeader = cred.CookieHeader
		m.mu.Unlock()
		return cred.CookieHeader
	}
	if cookie := m.cookieHeaderFromJar(); cookie != "" {
		m.mu.Lock()
		m.cred.CookieHeader = cookie
		m.mu.Unlock()
		return cookie
	}
	return ""
}

func (m *Manager) tryRefresh(ctx context.Context, ep Endpoint, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, ep.Method, m.baseURL+ep.Path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", cookie)

	res, err := m.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("refresh endpoint returned %d", res.StatusCode)
	}
	parsed := new(refreshResponse)
	if err := json.Unmarshal(raw, parsed); err != nil {
		return "", fmt.Errorf("malformed refresh body: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("refresh body missing token")
	}
	return parsed.Token, nil
}

// WhoAmI verify the session against the identity endpoint and return the
// backend's user id
func (m *Manager) WhoAmI(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+whoAmIPath, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	m.mu.Lock()
	if m.cred.CookieHeader != "" {
		req.Header.Set("Cookie", m.cred.CookieHeader)
	}
	if m.cred.SecurityToken != "" && m.tokenHeader != "" {
		req.Header.Set(m.tokenHeader, m.cred.SecurityToken)
	}
	m.mu.Unlock()

	res, err := m.hc.Do(req)
	if err != nil {
		return 0, &domain.NetworkError{Op: "whoAmI", Err: err}
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return 0, &domain.NetworkError{Op: "whoAmI", Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, &domain.BackendError{Status: res.StatusCode, Body: string(raw)}
	}
	var parsed struct {
		ID   int64 `json:"id"`
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("malformed whoAmI body: %w", err)
	}
	if parsed.ID != 0 {
		return parsed.ID, nil
	}
	return parsed.User.ID, nil
}

// Logout destroy the session: cookie jar, cached credential and persisted
// store are all cleared
func (m *Manager) Logout(ctx context.Context) error {
	jar, _ := cookiejar.New(nil)
	m.hc.Jar = jar
	m.mu.Lock()
	m.cred = domain.Credential{}
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

func (m *Manager) cookieHeaderFromJar() string {
	base, err := url.Parse(m.baseURL)
	if err != nil {
		return ""
	}
	cookies := m.hc.Jar.Cookies(base)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
