package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
	"github.com/0xshugo/suno-api-mcp/internal/notify"
)

// DefaultSafetyMargin is the remaining lifetime below which a credential
// is refreshed before use.
const DefaultSafetyMargin = 60 * time.Second

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	SafetyMargin     time.Duration
	RefreshTimeout   time.Duration
	FailureThreshold uint
	Service          string
	Notifier         notify.Notifier
	Logger           *logging.Logger
	Now              func() time.Time
}

// Status is a read-only view of the monitor.
type Status struct {
	Health          Health     `json:"health"`
	Mode            string     `json:"mode"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}

// Monitor gates provider calls behind a valid access credential and keeps
// the auth health record.
type Monitor struct {
	store     *Store
	refresher Refresher
	cfg       MonitorConfig
	logger    *logging.Logger
	group     singleflight.Group

	mu     sync.RWMutex
	health Health
}

// NewMonitor creates a monitor in the ok state.
func NewMonitor(store *Store, refresher Refresher, cfg MonitorConfig) *Monitor {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		health:    InitialHealth(cfg.Now()),
	}
}

// SeedAccess installs a directly supplied access credential, such as the
// legacy session token. Its expiry is read from the JWT when possible.
func (m *Monitor) SeedAccess(token string, defaultTTL time.Duration) {
	if token == "" {
		return
	}
	now := m.cfg.Now()
	exp, ok := JWTExpiry(token)
	if !ok {
		exp = now.Add(defaultTTL)
	}
	m.store.SetAccessCredential(AccessCredential{Token: token, IssuedAt: now, ExpiresAt: exp})
}

// EnsureValidAccess returns a usable access credential, refreshing when the
// current one is missing or close to expiry. Concurrent callers share a
// single in-flight refresh.
func (m *Monitor) EnsureValidAccess(ctx context.Context) (AccessCredential, error) {
	if ac, ok := m.store.AccessCredential(); ok && ac.UsableAt(m.cfg.Now(), m.cfg.SafetyMargin) {
		return ac, nil
	}
	return m.refresh(ctx, false)
}

// Refresh forces a refresh regardless of the current credential.
func (m *Monitor) Refresh(ctx context.Context) (AccessCredential, error) {
	return m.refresh(ctx, true)
}

func (m *Monitor) refresh(ctx context.Context, force bool) (AccessCredential, error) {
	if _, err := m.store.RefreshCredential(); err != nil {
		// Legacy mode: a directly supplied access credential is used as-is.
		if ac, ok := m.store.AccessCredential(); ok {
			return ac, nil
		}
		return AccessCredential{}, err
	}

	ch := m.group.DoChan("refresh", func() (any, error) {
		if !force {
			if ac, ok := m.store.AccessCredential(); ok && ac.UsableAt(m.cfg.Now(), m.cfg.SafetyMargin) {
				return ac, nil
			}
		}
		// The refresh outlives any single caller so that waiters are not
		// failed by the first caller's cancellation.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()

		ac, err := m.refresher.Refresh(rctx)
		m.record(OutcomeOf(err))
		if err != nil {
			return nil, err
		}
		return ac, nil
	})

	select {
	case <-ctx.Done():
		return AccessCredential{}, apperr.Transient("ensure access", apperr.ClassTransient, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return AccessCredential{}, res.Err
		}
		return res.Val.(AccessCredential), nil
	}
}

// Invalidate drops token if it is still the current access credential,
// typically after a provider answered 401.
func (m *Monitor) Invalidate(token string) {
	if m.store.ClearAccessCredential(token) {
		m.logger.Info("Access credential invalidated by provider response")
	}
}

// Validate tries candidate against the identity provider without touching
// the store or the health record.
func (m *Monitor) Validate(ctx context.Context, candidate RefreshCredential) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	defer cancel()
	_, err := m.refresher.Exchange(ctx, candidate)
	return err
}

// Health returns the current health record.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Status returns the health record plus credential metadata. It has no
// side effects.
func (m *Monitor) Status() Status {
	st := Status{Health: m.Health(), Mode: "refresh"}
	if _, err := m.store.RefreshCredential(); err != nil {
		st.Mode = "legacy"
	}
	if ac, ok := m.store.AccessCredential(); ok {
		exp := ac.ExpiresAt
		st.AccessExpiresAt = &exp
	}
	return st
}

// KeepAlive refreshes on a ticker until ctx is done so that health
// transitions are observed between tool calls.
func (m *Monitor) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.EnsureValidAccess(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warning("Keep-alive refresh failed: %v", err)
			}
		}
	}
}

func (m *Monitor) record(o Outcome) {
	m.mu.Lock()
	prev := m.health.State
	next, notifyNeeded := Apply(m.health, o, m.cfg.FailureThreshold, m.cfg.Now())
	m.health = next
	m.mu.Unlock()

	if next.State != prev {
		switch next.State {
		case StateOK:
			m.logger.Success("Auth health recovered (was %s)", prev)
		default:
			m.logger.Warning("Auth health %s -> %s (%s, %d consecutive failures)", prev, next.State, next.LastClass, next.ConsecutiveFailures)
		}
	}

	if notifyNeeded && m.cfg.Notifier != nil {
		m.cfg.Notifier.Notify(notify.Event{
			Service:             m.cfg.Service,
			State:               string(next.State),
			Classification:      string(next.LastClass),
			Message:             eventMessage(next),
			ConsecutiveFailures: next.ConsecutiveFailures,
			At:                  next.LastTransitionAt,
		})
	}
}

func eventMessage(h Health) string {
	switch h.State {
	case StateReauthRequired:
		return "Re-authentication required: update SUNO_REFRESH_TOKEN and restart. Last error: " + h.LastError
	case StateDegraded:
		return "Token refresh is failing and will be retried. Last error: " + h.LastError
	}
	return h.LastError
}
