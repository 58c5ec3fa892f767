package auth

import (
	"sync"
	"time"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

// RefreshCredential is the long-lived identity credential.
type RefreshCredential struct {
	Token    string
	DeviceID string
}

// AccessCredential is a short-lived bearer token for provider calls.
type AccessCredential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Lifetime returns the total validity window of the credential.
func (a AccessCredential) Lifetime() time.Duration {
	return a.ExpiresAt.Sub(a.IssuedAt)
}

// UsableAt reports whether the credential is still usable at now, keeping
// margin in reserve. The margin is capped at half the lifetime so that very
// short-lived tokens are not refreshed on every call.
func (a AccessCredential) UsableAt(now time.Time, margin time.Duration) bool {
	if a.Token == "" {
		return false
	}
	if half := a.Lifetime() / 2; half > 0 && margin > half {
		margin = half
	}
	return now.Add(margin).Before(a.ExpiresAt)
}

// Store holds the refresh credential and the current access credential.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	refresh RefreshCredential
	access  *AccessCredential
}

// NewStore creates a store for the given refresh credential.
func NewStore(refresh RefreshCredential) *Store {
	return &Store{refresh: refresh}
}

// RefreshCredential returns the configured refresh credential, or a
// configuration error when none was supplied.
func (s *Store) RefreshCredential() (RefreshCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.refresh.Token == "" {
		return RefreshCredential{}, apperr.Configuration("credential store", "refresh credential is not configured")
	}
	return s.refresh, nil
}

// DeviceID returns the device identifier sent with provider calls.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh.DeviceID
}

// AccessCredential returns the current access credential, if any.
func (s *Store) AccessCredential() (AccessCredential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.access == nil {
		return AccessCredential{}, false
	}
	return *s.access, true
}

// SetAccessCredential replaces the current access credential.
func (s *Store) SetAccessCredential(ac AccessCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = &ac
}

// ClearAccessCredential drops the current access credential if it still
// carries token. A newer credential stored concurrently is left alone.
func (s *Store) ClearAccessCredential(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == nil || s.access.Token != token {
		return false
	}
	s.access = nil
	return true
}
