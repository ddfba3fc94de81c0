package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSession a canned token source. Each forced refresh bumps the token
// generation so tests can tell retries apart.
type fakeSession struct {
	refreshes  int32
	refreshErr error
}

func (f *fakeSession) EnsureToken(ctx context.Context, force bool) (string, error) {
	if force {
		atomic.AddInt32(&f.refreshes, 1)
		if f.refreshErr != nil {
			return "", f.refreshErr
		}
	}
	return fmt.Sprintf("tok-%d", atomic.LoadInt32(&f.refreshes)), nil
}

func (f *fakeSession) CookieHeader() string { return "sid=abc" }

func (f *fakeSession) TokenHeader() string { return "X-Security-Token" }

func newTestPipeline(baseURL string, session TokenSource) *Pipeline {
	return New(&Config{BaseURL: baseURL}, session, zap.NewNop())
}

func TestDoRetriesOnceOnRejectedToken(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"token_expired","message":"Security token expired"}`)
	}))
	defer srv.Close()

	session := &fakeSession{}
	p := newTestPipeline(srv.URL, session)
	_, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses", nil)

	var expired *domain.SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, "/api/v1/courses", expired.Path)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "exactly one retry after the refresh")
	assert.Equal(t, int32(1), atomic.LoadInt32(&session.refreshes), "exactly one forced refresh")
}

func TestDoSucceedsAfterRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Security-Token") != "tok-1" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"code":"token_invalid"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	session := &fakeSession{}
	p := newTestPipeline(srv.URL, session)
	res, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, res.IsJSON())
	assert.Equal(t, int32(1), atomic.LoadInt32(&session.refreshes))
}

func TestDoRefreshFailureIsSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"token_expired"}`)
	}))
	defer srv.Close()

	session := &fakeSession{refreshErr: domain.ErrTokenRefreshFailed}
	p := newTestPipeline(srv.URL, session)
	_, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses", nil)

	var expired *domain.SessionExpiredError
	assert.ErrorAs(t, err, &expired)
}

func TestDoPlainFailureIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	session := &fakeSession{}
	p := newTestPipeline(srv.URL, session)
	_, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses/999", nil)

	var backendErr *domain.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusNotFound, backendErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(0), atomic.LoadInt32(&session.refreshes))
}

func TestDoForbiddenWithoutTokenSignalIsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"quota_exceeded","message":"Plan limit reached"}`)
	}))
	defer srv.Close()

	session := &fakeSession{}
	p := newTestPipeline(srv.URL, session)
	_, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses", nil)

	var backendErr *domain.BackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Equal(t, int32(0), atomic.LoadInt32(&session.refreshes))
}

func TestDoWithoutTokenSkipsRecovery(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		assert.Empty(t, r.Header.Get("X-Security-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"code":"token_expired"}`)
	}))
	defer srv.Close()

	session := &fakeSession{}
	p := newTestPipeline(srv.URL, session)
	_, err := p.Do(context.Background(), http.MethodPost, "/api/v1/user/login", map[string]string{"identifier": "x"}, WithoutToken())

	var backendErr *domain.BackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(0), atomic.LoadInt32(&session.refreshes))
}

func TestDoUnreachableBackendIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := newTestPipeline(srv.URL, &fakeSession{})
	_, err := p.Do(context.Background(), http.MethodGet, "/api/v1/courses", nil)

	var netErr *domain.NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestIsTokenRejected(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"code match", 403, `{"code":"token_expired"}`, true},
		{"type match", 401, `{"type":"invalid_token"}`, true},
		{"message keywords", 403, `{"message":"Security token was rejected"}`, true},
		{"nonce wording", 403, `{"message":"nonce expired, refresh it"}`, true},
		{"plain text body", 403, `security token invalid`, true},
		{"forbidden without signal", 403, `{"code":"quota_exceeded"}`, false},
		{"token mentioned without verdict", 403, `{"message":"token quota"}`, false},
		{"wrong status", 500, `{"code":"token_expired"}`, false},
		{"empty body", 403, ``, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.rejected, isTokenRejected(c.status, []byte(c.body)))
		})
	}
}
