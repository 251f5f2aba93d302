// Package api is a typed client for the auth and social HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/fetch"
)

// Login providers handled by a direct POST. Every other provider name is a
// foreign OAuth flow started by navigating to LoginURL.
const (
	ProviderDev   = "dev"
	ProviderEmail = "email"
)

// Profile is the self_profile response.
type Profile struct {
	User  ProfileUser   `json:"user"`
	Roles []domain.Role `json:"roles"`
}

// ProfileUser is the user portion of a profile.
type ProfileUser struct {
	ID       domain.UserID `json:"id"`
	CreateMs *int64        `json:"createMs,omitempty"`
}

// CreatedAt converts CreateMs, if present.
func (u ProfileUser) CreatedAt() *time.Time {
	if u.CreateMs == nil {
		return nil
	}
	t := time.UnixMilli(*u.CreateMs)
	return &t
}

// Client calls the biomes web API.
type Client struct {
	fetch *fetch.Client
}

// New wraps a fetch client.
func New(f *fetch.Client) *Client {
	return &Client{fetch: f}
}

// CheckSession returns the logged-in user, or InvalidUserID when there is none.
// 401 and 404 count as "not logged in".
func (c *Client) CheckSession(ctx context.Context) (domain.UserID, error) {
	var resp struct {
		UserID *domain.UserID `json:"userId,omitempty"`
	}
	err := c.fetch.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/check",
		Body:   struct{}{},
	}, &resp)
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return domain.InvalidUserID, nil
	}
	if err != nil {
		return domain.InvalidUserID, fmt.Errorf("check session: %w", err)
	}
	if resp.UserID == nil {
		return domain.InvalidUserID, nil
	}
	return *resp.UserID, nil
}

// SelfProfile fetches the caller's profile.
func (c *Client) SelfProfile(ctx context.Context, opts ...fetch.Option) (*Profile, error) {
	var profile Profile
	if err := c.fetch.Do(ctx, fetch.Request{
		Method: http.MethodGet,
		Path:   "/api/social/self_profile",
	}, &profile, opts...); err != nil {
		return nil, fmt.Errorf("self profile: %w", err)
	}
	return &profile, nil
}

// Login starts a dev or email login. Session cookies from the response are
// kept by the fetch client.
func (c *Client) Login(ctx context.Context, provider string, params url.Values) error {
	if provider != ProviderDev && provider != ProviderEmail {
		return fmt.Errorf("provider %q needs a browser redirect, use LoginURL", provider)
	}
	if err := c.fetch.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		Path:   loginPath(provider),
		Query:  params,
		Body:   struct{}{},
	}, nil); err != nil {
		return fmt.Errorf("login %s: %w", provider, err)
	}
	return nil
}

// LoginURL is where a browser goes to start a foreign OAuth login.
func (c *Client) LoginURL(provider string, params url.Values) string {
	u := c.fetch.BaseURL().JoinPath(loginPath(provider))
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func loginPath(provider string) string {
	return "/api/auth/" + url.PathEscape(provider) + "/login"
}

// Logout clears the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.fetch.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		Path:   "/api/auth/logout",
		Body:   struct{}{},
	}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// SaveUsername sets the player's display name.
func (c *Client) SaveUsername(ctx context.Context, username string) error {
	if err := c.fetch.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		Path:   "/api/user/save_username",
		Body:   map[string]string{"username": username},
	}, nil); err != nil {
		return fmt.Errorf("save username: %w", err)
	}
	return nil
}
