package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlvik/coursekit/internal/credential"
	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(baseURL string) (*Manager, domain.CredentialStore) {
	store := credential.NewStore(driver.NewMemoryKV(), zap.NewNop())
	m := NewManager(&Config{
		BaseURL:     baseURL,
		TokenHeader: "X-Security-Token",
		TokenTTL:    10 * time.Minute,
		Timeout:     5 * time.Second,
	}, store, zap.NewNop())
	return m, store
}

func TestEnsureTokenRespectsTTL(t *testing.T) {
	var refreshCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token" {
			n := atomic.AddInt32(&refreshCalls, 1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"token":"fresh-%d"}`, n)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, _ := newTestManager(srv.URL)
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.cred = domain.Credential{
		CookieHeader:  "sid=abc",
		SecurityToken: "cached",
		TokenIssuedAt: issued,
	}

	// one millisecond before expiry the cached token is reused
	m.now = func() time.Time { return issued.Add(10*time.Minute - time.Millisecond) }
	token, err := m.EnsureToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshCalls))

	// one millisecond past expiry exactly one refresh happens
	m.now = func() time.Time { return issued.Add(10*time.Minute + time.Millisecond) }
	token, err = m.EnsureToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "fresh-1", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
}

func TestEnsureTokenSingleFlight(t *testing.T) {
	var refreshCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token" {
			atomic.AddInt32(&refreshCalls, 1)
			time.Sleep(100 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"shared"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, _ := newTestManager(srv.URL)
	m.cred = domain.Credential{CookieHeader: "sid=abc"}

	const callers = 8
	start := make(chan struct{})
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			<-start
			tokens[slot], errs[slot] = m.EnsureToken(context.Background(), true)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls), "concurrent callers must share one refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
}

func TestEnsureTokenEndpointFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// only the legacy POST refresh endpoint works on this backend
		if r.Method == http.MethodPost && r.URL.Path == "/api/v1/auth/refresh" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"legacy"}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, _ := newTestManager(srv.URL)
	m.cred = domain.Credential{CookieHeader: "sid=abc"}

	token, err := m.EnsureToken(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "legacy", token)
}

func TestEnsureTokenWithoutCookieFailsImmediately(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	m, _ := newTestManager(srv.URL)
	token, err := m.EnsureToken(context.Background(), true)
	assert.Empty(t, token)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "no refresh request without a cookie")
}

func TestEnsureTokenExhaustionClearsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, store := newTestManager(srv.URL)
	require.NoError(t, store.SetToken(context.Background(), "stale", time.Now()))
	m.cred = domain.Credential{
		CookieHeader:  "sid=abc",
		SecurityToken: "stale",
		TokenIssuedAt: time.Now(),
	}

	token, err := m.EnsureToken(context.Background(), true)
	assert.Empty(t, token)
	assert.ErrorIs(t, err, domain.ErrTokenRefreshFailed)
	assert.Empty(t, m.Credential().SecurityToken)

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted.SecurityToken)
}

func TestLoginFallsBackToSecondEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "xyz", Path: "/"})
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok":true,"token":"t1","user":{"id":7}}`)
		case "/api/v1/user/me":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":7}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m, store := newTestManager(srv.URL)
	cred, err := m.Login(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(7), cred.UserID)
	assert.Equal(t, "t1", cred.SecurityToken)
	assert.Contains(t, cred.CookieHeader, "sid=xyz")

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", persisted.SecurityToken)
	assert.Contains(t, persisted.CookieHeader, "sid=xyz")
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m, _ := newTestManager(srv.URL)
	_, err := m.Login(context.Background(), "ada@example.com", "wrong")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthReasonInvalidCredentials, authErr.Reason)
}

func TestLoginBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	m, _ := newTestManager(srv.URL)
	_, err := m.Login(context.Background(), "ada@example.com", "pw")

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthReasonBackendUnreachable, authErr.Reason)
}

func TestLogoutClearsEverything(t *testing.T) {
	m, store := newTestManager("http://127.0.0.1:0")
	m.cred = domain.Credential{
		CookieHeader:  "sid=abc",
		SecurityToken: "tok",
		TokenIssuedAt: time.Now(),
		UserID:        7,
	}
	require.NoError(t, store.Save(context.Background(), &m.cred))

	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, &domain.Credential{}, m.Credential())

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.Credential{}, persisted)
}
