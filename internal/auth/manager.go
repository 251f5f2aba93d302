// Package auth acquires and maintains the local player's session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/api"
	"github.com/vietddude/biomes-client/internal/infra/backoff"
	"github.com/vietddude/biomes-client/internal/infra/fetch"
)

// API is the subset of the web API the manager calls.
type API interface {
	CheckSession(ctx context.Context) (domain.UserID, error)
	SelfProfile(ctx context.Context, opts ...fetch.Option) (*api.Profile, error)
	Login(ctx context.Context, provider string, params url.Values) error
	Logout(ctx context.Context) error
	SaveUsername(ctx context.Context, username string) error
}

// HintStore keeps best-effort hints across client restarts.
type HintStore interface {
	SetLastDevLogin(ctx context.Context, id string) error
	LastDevLogin(ctx context.Context) (string, bool, error)
}

// Reloader restarts the client at route after the session changes.
type Reloader func(ctx context.Context, route string) error

// Config holds manager settings.
type Config struct {
	ProfilePolicy backoff.Policy
	Reloader      Reloader
	Now           func() time.Time
}

// Manager owns the local player's Session.
type Manager struct {
	api    API
	hints  HintStore
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	session *domain.Session
}

// NewManager creates a session manager. hints may be nil.
func NewManager(cfg Config, client API, hints HintStore, logger *slog.Logger) *Manager {
	if cfg.ProfilePolicy.MaxAttempts == 0 {
		cfg.ProfilePolicy = backoff.DefaultPolicy
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if hints == nil {
		hints = NewMemoryHints()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:    client,
		hints:  hints,
		cfg:    cfg,
		logger: logger.With("component", "auth"),
	}
}

// Session returns the current session, or nil before Bootstrap.
func (m *Manager) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) setSession(s *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// CheckSession asks the server who is logged in. InvalidUserID means nobody.
func (m *Manager) CheckSession(ctx context.Context) (domain.UserID, error) {
	return m.api.CheckSession(ctx)
}

// Bootstrap resolves the session for userID.
//
// InvalidUserID yields an anonymous session without a network call. A
// profile that cannot be fetched or does not match userID yields a fallback
// session. Only context cancellation is returned as an error.
func (m *Manager) Bootstrap(ctx context.Context, userID domain.UserID) (*domain.Session, error) {
	if userID == domain.InvalidUserID {
		s := domain.AnonymousSession()
		m.setSession(s)
		return s, nil
	}

	profile, err := backoff.Do(ctx, m.cfg.ProfilePolicy, func(ctx context.Context) (*api.Profile, error) {
		p, err := m.api.SelfProfile(ctx, fetch.WithRetries(0))
		if errors.Is(err, domain.ErrNotAuthenticated) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	},
		backoff.WithLogger(m.logger),
		backoff.WithName("self_profile"),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.logger.Warn("profile unavailable, using fallback session", "user_id", userID, "error", err)
		return m.fallback(userID), nil
	}

	if profile.User.ID != userID {
		mismatch := domain.WrapError(domain.CodeAuthMismatch,
			fmt.Sprintf("requested user %d, profile is %d", userID, profile.User.ID),
			domain.ErrAuthMismatch)
		m.logger.Error("profile mismatch, using fallback session", "error", mismatch)
		return m.fallback(userID), nil
	}

	s := domain.NewSession(userID, profile.User.CreatedAt(), profile.Roles)
	m.setSession(s)
	return s, nil
}

func (m *Manager) fallback(userID domain.UserID) *domain.Session {
	s := domain.FallbackSession(userID, m.cfg.Now())
	m.setSession(s)
	return s
}

// UpdateSpecialRoles replaces the role set on the current session in place.
func (m *Manager) UpdateSpecialRoles(roles []domain.Role) {
	if s := m.Session(); s != nil {
		s.ReplaceRoles(roles)
	}
}

// LoginDev logs in with a dev account id and remembers it as a hint.
func (m *Manager) LoginDev(ctx context.Context, id string) error {
	if err := m.api.Login(ctx, api.ProviderDev, url.Values{"username": {id}}); err != nil {
		return err
	}
	if err := m.hints.SetLastDevLogin(ctx, id); err != nil {
		m.logger.Warn("failed to save dev login hint", "error", err)
	}
	return nil
}

// LoginEmail starts an email login.
func (m *Manager) LoginEmail(ctx context.Context, email string) error {
	return m.api.Login(ctx, api.ProviderEmail, url.Values{"email": {email}})
}

// LastDevLogin returns the last dev login id, if one was recorded.
func (m *Manager) LastDevLogin(ctx context.Context) (string, bool) {
	id, ok, err := m.hints.LastDevLogin(ctx)
	if err != nil {
		m.logger.Warn("failed to read dev login hint", "error", err)
		return "", false
	}
	return id, ok
}

// SaveUsername sets the player's display name.
func (m *Manager) SaveUsername(ctx context.Context, username string) error {
	return m.api.SaveUsername(ctx, username)
}

// Logout clears the server session, drops the local one and reloads at "/".
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.api.Logout(ctx); err != nil {
		return err
	}
	m.setSession(nil)

	if m.cfg.Reloader == nil {
		return nil
	}
	if err := m.cfg.Reloader(ctx, "/"); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}
