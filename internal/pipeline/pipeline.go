package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/mlvik/coursekit/internal/domain"
	"go.uber.org/zap"
)

// TokenSource what the pipeline needs from the session manager
type TokenSource interface {
	EnsureToken(ctx context.Context, force bool) (string, error)
	CookieHeader() string
	TokenHeader() string
}

// Config options for the request pipeline
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Pipeline the single chokepoint for backend HTTP calls. It attaches session
// headers, classifies failures and heals exactly one failure class: a rejected
// security token, recovered by a forced refresh followed by a single retry.
type Pipeline struct {
	baseURL string
	hc      *http.Client
	session TokenSource
	logger  *zap.Logger
}

// Result a lenient view over a backend response. The body is kept raw; JSON
// decoding happens only when a caller asks for it.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// IsJSON report whether the backend declared a JSON body
func (r *Result) IsJSON() bool {
	return strings.Contains(r.ContentType, "application/json")
}

// Decode unmarshal the body into v
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Text the body as raw text
func (r *Result) Text() string {
	return string(r.Body)
}

type requestOptions struct {
	tokenExempt bool
}

// Option per request pipeline option
type Option func(*requestOptions)

// WithoutToken mark the call token-exempt, no security token header is
// attached and no token recovery is attempted
func WithoutToken() Option {
	return func(o *requestOptions) {
		o.tokenExempt = true
	}
}

// New create a request pipeline bound to a session
func New(cfg *Config, session TokenSource, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc: &http.Client{
			Timeout: cfg.Timeout,
		},
		session: session,
		logger:  logger,
	}
}

// Do execute one backend call. A 403-class response whose body specifically
// signals an invalid or expired token triggers a forced token refresh and
// exactly one retry; every other failure class is surfaced immediately.
func (p *Pipeline) Do(ctx context.Context, method, path string, body interface{}, opts ...Option) (*Result, error) {
	options := new(requestOptions)
	for _, opt := range opts {
		opt(options)
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	token := ""
	if !options.tokenExempt {
		if t, err := p.session.EnsureToken(ctx, false); err == nil {
			token = t
		} else {
			// an unauthenticated call is still allowed to proceed bare
			p.logger.Debug("Proceeding without security token", zap.String("url.path", path), zap.Error(err))
		}
	}

	res, err := p.attempt(ctx, method, path, payload, token)
	if err != nil {
		return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
	}
	if res.Status >= 200 && res.Status < 300 {
		return res, nil
	}

	if !options.tokenExempt && isTokenRejected(res.Status, res.Body) {
		p.logger.Debug("Security token rejected, forcing refresh",
			zap.String("url.path", path),
			zap.Int("http.response.status_code", res.Status),
		)
		fresh, err := p.session.EnsureToken(ctx, true)
		if err != nil || fresh == "" {
			return nil, &domain.SessionExpiredError{Path: path, Status: res.Status}
		}
		retry, err := p.attempt(ctx, method, path, payload, fresh)
		if err != nil {
			return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
		}
		if retry.Status >= 200 && retry.Status < 300 {
			return retry, nil
		}
		if isTokenRejected(retry.Status, retry.Body) {
			// a fresh token got rejected too, the session is gone
			return nil, &domain.SessionExpiredError{Path: path, Status: retry.Status}
		}
		return nil, &domain.BackendError{Status: retry.Status, Body: retry.Text()}
	}

	return nil, &domain.BackendError{Status: res.Status, Body: res.Text()}
}

func (p *Pipeline) attempt(ctx context.Context, method, path string, payload []byte, token string) (*Result, error) {
	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie := p.session.CookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if token != "" {
		if header := p.session.TokenHeader(); header != "" {
			req.Header.Set(header, token)
		}
	}

	res, err := p.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        raw,
	}, nil
}

// error codes a backend uses to report a dead security token
var tokenErrorCodes = map[string]struct{}{
	"token_expired":   {},
	"token_invalid":   {},
	"invalid_token":   {},
	"expired_token":   {},
	"nonce_expired":   {},
	"invalid_nonce":   {},
	"security_token":  {},
	"session_expired": {},
}

// isTokenRejected detect the one failure the pipeline is allowed to heal: a
// 403-class response that specifically reports an invalid or expired security
// token, either by error code or by keywords in the message text
func isTokenRejected(status int, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusUnauthorized {
		return false
	}
	var envelope struct {
		Code    interface{} `json:"code"`
		Type    string      `json:"type"`
		Error   string      `json:"error"`
		Message string      `json:"message"`
		Detail  string      `json:"detail"`
		Title   string      `json:"title"`
	}
	text := strings.ToLower(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil {
		if code, ok := envelope.Code.(string); ok {
			if _, match := tokenErrorCodes[strings.ToLower(code)]; match {
				return true
			}
		}
		if _, match := tokenErrorCodes[strings.ToLower(envelope.Type)]; match {
			return true
		}
		text = strings.ToLower(strings.Join([]string{envelope.Error, envelope.Message, envelope.Detail, envelope.Title}, " "))
	}
	if !strings.Contains(text, "token") && !strings.Contains(text, "nonce") {
		return false
	}
	return strings.Contains(text, "expire") || strings.Contains(text, "invalid") || strings.Contains(text, "reject")
}
