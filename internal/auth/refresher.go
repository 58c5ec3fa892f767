package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
)

const (
	// DefaultClerkBase is the identity provider used by suno.com.
	DefaultClerkBase = "https://clerk.suno.com"
	// DefaultClerkJSVersion is the client library version the provider expects.
	DefaultClerkJSVersion = "5.56.0"
	// DefaultTTL is assumed when the provider does not declare a lifetime.
	DefaultTTL = 55 * time.Minute

	maxIdentityBody = 1 << 20
)

// Refresher exchanges a refresh credential for an access credential.
type Refresher interface {
	// Refresh exchanges the stored refresh credential and stores the result.
	Refresh(ctx context.Context) (AccessCredential, error)
	// Exchange tries an arbitrary refresh credential without storing anything.
	Exchange(ctx context.Context, candidate RefreshCredential) (AccessCredential, error)
}

// ClerkConfig configures a ClerkRefresher.
type ClerkConfig struct {
	BaseURL    string
	JSVersion  string
	UserAgent  string
	DefaultTTL time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// ClerkRefresher implements Refresher against the Clerk frontend API.
// It performs no retries; callers own the retry policy.
type ClerkRefresher struct {
	cfg    ClerkConfig
	store  *Store
	logger *logging.Logger

	mu        sync.Mutex
	sessionID string
}

// NewClerkRefresher creates a refresher that writes into store.
func NewClerkRefresher(cfg ClerkConfig, store *Store) *ClerkRefresher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultClerkBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.JSVersion == "" {
		cfg.JSVersion = DefaultClerkJSVersion
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &ClerkRefresher{cfg: cfg, store: store, logger: logger}
}

// Refresh implements Refresher.
func (r *ClerkRefresher) Refresh(ctx context.Context) (AccessCredential, error) {
	cred, err := r.store.RefreshCredential()
	if err != nil {
		return AccessCredential{}, err
	}

	sid, err := r.cachedSession(ctx, cred.Token)
	if err != nil {
		return AccessCredential{}, err
	}

	ac, status, err := r.issueToken(ctx, cred.Token, sid)
	if err != nil {
		if status == http.StatusNotFound {
			r.forgetSession(sid)
		}
		return AccessCredential{}, err
	}

	r.store.SetAccessCredential(ac)
	r.logger.Debug("access credential refreshed, expires at %s", ac.ExpiresAt.Format(time.RFC3339))
	return ac, nil
}

// Exchange implements Refresher.
func (r *ClerkRefresher) Exchange(ctx context.Context, candidate RefreshCredential) (AccessCredential, error) {
	token := strings.TrimSpace(candidate.Token)
	if token == "" {
		return AccessCredential{}, apperr.Validation("validate", "candidate refresh credential is empty")
	}
	sid, err := r.resolveSession(ctx, token)
	if err != nil {
		return AccessCredential{}, err
	}
	ac, _, err := r.issueToken(ctx, token, sid)
	return ac, err
}

func (r *ClerkRefresher) cachedSession(ctx context.Context, token string) (string, error) {
	r.mu.Lock()
	sid := r.sessionID
	r.mu.Unlock()
	if sid != "" {
		return sid, nil
	}

	sid, err := r.resolveSession(ctx, token)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.sessionID = sid
	r.mu.Unlock()
	r.logger.Info("Resolved identity session %s", redact(sid))
	return sid, nil
}

func (r *ClerkRefresher) forgetSession(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID == sid {
		r.sessionID = ""
	}
}

// resolveSession finds the active session for a refresh credential.
func (r *ClerkRefresher) resolveSession(ctx context.Context, token string) (string, error) {
	body, _, err := r.do(ctx, http.MethodGet, "/v1/client", token)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", apperr.Transient("resolve session", apperr.ClassTransient, errors.New("malformed identity response"))
	}

	root := gjson.GetBytes(body, "response")
	if !root.Exists() {
		root = gjson.ParseBytes(body)
	}
	sid := root.Get("last_active_session_id").String()
	if sid == "" {
		sid = root.Get("sessions.0.id").String()
	}
	if sid == "" {
		return "", apperr.Auth("resolve session", apperr.ClassExpiredOrInvalid, errors.New("no active session for refresh credential"))
	}
	return sid, nil
}

// issueToken mints an access credential for a session.
func (r *ClerkRefresher) issueToken(ctx context.Context, token, sid string) (AccessCredential, int, error) {
	body, status, err := r.do(ctx, http.MethodPost, "/v1/client/sessions/"+url.PathEscape(sid)+"/tokens", token)
	if err != nil {
		return AccessCredential{}, status, err
	}

	access := gjson.GetBytes(body, "jwt").String()
	if !gjson.ValidBytes(body) || access == "" {
		return AccessCredential{}, status, apperr.Transient("issue token", apperr.ClassTransient, errors.New("token response carries no usable access token"))
	}

	now := r.cfg.Now()
	return AccessCredential{
		Token:     access,
		IssuedAt:  now,
		ExpiresAt: r.expiry(now, access, gjson.GetBytes(body, "expires_in")),
	}, status, nil
}

// expiry derives the expiry from the declared lifetime, the JWT exp claim,
// or the default TTL, in that order.
func (r *ClerkRefresher) expiry(now time.Time, access string, expiresIn gjson.Result) time.Time {
	if secs := expiresIn.Int(); secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if exp, ok := JWTExpiry(access); ok && exp.After(now) {
		return exp
	}
	return now.Add(r.cfg.DefaultTTL)
}

// JWTExpiry reads the exp claim of a JWT without verifying its signature.
func JWTExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (r *ClerkRefresher) do(ctx context.Context, method, path, token string) ([]byte, int, error) {
	q := url.Values{}
	q.Set("_is_native", "true")
	q.Set("_clerk_js_version", r.cfg.JSVersion)
	endpoint := r.cfg.BaseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token)
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, apperr.Transient(method+" "+path, apperr.ClassTransient, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			r.logger.Debug("identity response body close error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, resp.StatusCode, apperr.Transient(method+" "+path, apperr.ClassTransient, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, StatusError(method+" "+path, resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

// ClassifyStatus maps a non-2xx identity status code to a failure class.
func ClassifyStatus(code int) apperr.FailureClass {
	switch code {
	case http.StatusUnauthorized:
		return apperr.ClassExpiredOrInvalid
	case http.StatusForbidden:
		return apperr.ClassForbidden
	case http.StatusTooManyRequests:
		return apperr.ClassRateLimited
	default:
		return apperr.ClassTransient
	}
}

// StatusError builds the classified error for a non-2xx identity response.
func StatusError(op string, code int, body []byte) *apperr.Error {
	class := ClassifyStatus(code)
	err := fmt.Errorf("status %d: %s", code, truncate(string(body), 200))
	if class.Recoverable() {
		return apperr.Transient(op, class, err)
	}
	return apperr.Auth(op, class, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:8] + "..."
}
