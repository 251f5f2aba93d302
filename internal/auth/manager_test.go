package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/api"
	"github.com/vietddude/biomes-client/internal/infra/backoff"
	"github.com/vietddude/biomes-client/internal/infra/fetch"
	"github.com/vietddude/biomes-client/internal/testutil"
)

// ============================================================================
// Mock API
// ============================================================================

type mockAPI struct {
	mu sync.Mutex

	profileErrs  []error // returned in order before profile
	profile      *api.Profile
	profileCalls int

	loginCalls  []string
	logoutErr   error
	logoutCalls int
}

func (m *mockAPI) CheckSession(ctx context.Context) (domain.UserID, error) {
	return domain.InvalidUserID, nil
}

func (m *mockAPI) SelfProfile(ctx context.Context, opts ...fetch.Option) (*api.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profileCalls++
	if len(m.profileErrs) > 0 {
		err := m.profileErrs[0]
		m.profileErrs = m.profileErrs[1:]
		return nil, err
	}
	if m.profile == nil {
		return nil, errors.New("no profile configured")
	}
	return m.profile, nil
}

func (m *mockAPI) Login(ctx context.Context, provider string, params url.Values) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCalls = append(m.loginCalls, provider+":"+params.Encode())
	return nil
}

func (m *mockAPI) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutCalls++
	return m.logoutErr
}

func (m *mockAPI) SaveUsername(ctx context.Context, username string) error { return nil }

func (m *mockAPI) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileCalls
}

type failingHints struct{}

func (failingHints) SetLastDevLogin(context.Context, string) error { return errors.New("redis down") }
func (failingHints) LastDevLogin(context.Context) (string, bool, error) {
	return "", false, errors.New("redis down")
}

// ============================================================================
// Tests
// ============================================================================

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testConfig() Config {
	return Config{
		ProfilePolicy: backoff.Policy{BaseDelay: time.Millisecond, Exponent: 1.25, MaxDelay: 10 * time.Millisecond, MaxAttempts: 5},
		Now:           func() time.Time { return fixedNow },
	}
}

func profileFor(id domain.UserID, roles ...domain.Role) *api.Profile {
	created := int64(1_600_000_000_000)
	return &api.Profile{User: api.ProfileUser{ID: id, CreateMs: &created}, Roles: roles}
}

func TestBootstrap_AnonymousMakesNoCalls(t *testing.T) {
	m := &mockAPI{}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	s, err := mgr.Bootstrap(context.Background(), domain.InvalidUserID)
	require.NoError(t, err)
	require.True(t, s.IsAnonymous())
	require.Empty(t, s.Roles())
	require.Equal(t, 0, m.calls())
}

func TestBootstrap_Success(t *testing.T) {
	m := &mockAPI{profile: profileFor(42, domain.RoleAdmin)}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(42), s.UserID())
	require.True(t, s.HasRole(domain.RoleAdmin))

	created, ok := s.CreatedAt()
	require.True(t, ok)
	require.Equal(t, int64(1_600_000_000_000), created.UnixMilli())
	require.Same(t, s, mgr.Session())
}

func TestBootstrap_RetriesThenSucceeds(t *testing.T) {
	netErr := domain.WrapError(domain.CodeTransientNetwork, "GET /api/social/self_profile", errors.New("connection reset"))
	m := &mockAPI{
		profileErrs: []error{netErr, netErr, netErr},
		profile:     profileFor(42),
	}
	rec, logger := testutil.NewLogRecorder()
	mgr := NewManager(testConfig(), m, nil, logger)

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(42), s.UserID())

	// One success after three failures, and one warning per retry.
	require.Equal(t, 4, m.calls())
	require.Equal(t, 3, rec.Count(slog.LevelWarn))
}

func TestBootstrap_MismatchFallsBack(t *testing.T) {
	m := &mockAPI{profile: profileFor(99, domain.RoleAdmin, domain.RoleBaker)}
	rec, logger := testutil.NewLogRecorder()
	mgr := NewManager(testConfig(), m, nil, logger)

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(42), s.UserID())
	require.Empty(t, s.Roles())

	created, ok := s.CreatedAt()
	require.True(t, ok)
	require.Equal(t, fixedNow, created)
	require.Equal(t, 1, rec.Count(slog.LevelError))
}

func TestBootstrap_ExhaustedFallsBack(t *testing.T) {
	netErr := errors.New("timeout")
	m := &mockAPI{profileErrs: []error{netErr, netErr, netErr, netErr, netErr, netErr}}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(42), s.UserID())
	require.Empty(t, s.Roles())
	require.Equal(t, 5, m.calls())
}

func TestBootstrap_NotAuthenticatedStopsRetrying(t *testing.T) {
	m := &mockAPI{profileErrs: []error{&fetch.StatusError{Method: "GET", Path: "/api/social/self_profile", Status: http.StatusUnauthorized}}}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, domain.UserID(42), s.UserID())
	require.Equal(t, 1, m.calls())
}

func TestBootstrap_CancelledReturnsError(t *testing.T) {
	m := &mockAPI{profileErrs: []error{errors.New("a"), errors.New("b")}}
	cfg := testConfig()
	cfg.ProfilePolicy.BaseDelay = time.Hour
	cfg.ProfilePolicy.MaxDelay = time.Hour
	mgr := NewManager(cfg, m, nil, slogt.New(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := mgr.Bootstrap(ctx, 42)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, s)
}

func TestUpdateSpecialRoles_InPlace(t *testing.T) {
	m := &mockAPI{profile: profileFor(42, domain.RoleBaker)}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	s, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)

	mgr.UpdateSpecialRoles([]domain.Role{domain.RoleAdmin, domain.RoleDeveloper})
	require.Same(t, s, mgr.Session())
	require.Equal(t, domain.UserID(42), s.UserID())
	require.Equal(t, []domain.Role{domain.RoleAdmin, domain.RoleDeveloper}, s.Roles())
}

func TestLoginDev_SavesHint(t *testing.T) {
	m := &mockAPI{}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))
	ctx := context.Background()

	_, ok := mgr.LastDevLogin(ctx)
	require.False(t, ok)

	require.NoError(t, mgr.LoginDev(ctx, "9001"))
	require.Equal(t, []string{"dev:username=9001"}, m.loginCalls)

	id, ok := mgr.LastDevLogin(ctx)
	require.True(t, ok)
	require.Equal(t, "9001", id)
}

func TestLoginEmail(t *testing.T) {
	m := &mockAPI{}
	mgr := NewManager(testConfig(), m, nil, slogt.New(t))

	require.NoError(t, mgr.LoginEmail(context.Background(), "a@b.co"))
	require.Equal(t, []string{"email:email=a%40b.co"}, m.loginCalls)
}

func TestLoginDev_HintFailureIsNotFatal(t *testing.T) {
	mgr := NewManager(testConfig(), &mockAPI{}, failingHints{}, slogt.New(t))
	ctx := context.Background()

	require.NoError(t, mgr.LoginDev(ctx, "9001"))
	_, ok := mgr.LastDevLogin(ctx)
	require.False(t, ok)
}

func TestLogout_ReloadsRoot(t *testing.T) {
	var routes []string
	cfg := testConfig()
	cfg.Reloader = func(ctx context.Context, route string) error {
		routes = append(routes, route)
		return nil
	}
	m := &mockAPI{profile: profileFor(42)}
	mgr := NewManager(cfg, m, nil, slogt.New(t))

	_, err := mgr.Bootstrap(context.Background(), 42)
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(context.Background()))
	require.Equal(t, []string{"/"}, routes)
	require.Nil(t, mgr.Session())
}

func TestLogout_ServerFailureSkipsReload(t *testing.T) {
	reloaded := false
	cfg := testConfig()
	cfg.Reloader = func(ctx context.Context, route string) error {
		reloaded = true
		return nil
	}
	m := &mockAPI{logoutErr: errors.New("boom")}
	mgr := NewManager(cfg, m, nil, slogt.New(t))

	require.Error(t, mgr.Logout(context.Background()))
	require.False(t, reloaded)
}
