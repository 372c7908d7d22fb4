package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Session is an authenticated session with automatic token refresh.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	user         *User
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func newSession(client *SDKClient, resp *AuthResponse) *Session {
	return &Session{
		client:       client,
		user:         resp.User,
		accessToken:  resp.AccessToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    resp.AccessTokenExpiresAt.Add(-refreshSkew),
	}
}

// User returns the profile returned at login or on the last refresh.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// AccessToken returns the current access token without checking expiry.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Refresh rotates the token pair now.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return errors.New("no refresh token available")
	}
	out, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	if out.User != nil {
		s.user = out.User
	}
	s.accessToken = out.AccessToken
	s.refreshToken = out.RefreshToken
	s.expiresAt = out.AccessTokenExpiresAt.Add(-refreshSkew)
	return nil
}

// getValidToken returns an access token, refreshing first when it is about
// to expire.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.client.now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed.
	if s.client.now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// do performs an authenticated request. A 401 triggers one refresh and
// retry, which covers tokens the server expired earlier than expected.
func (s *Session) do(ctx context.Context, method, path string, body, target any, expectedStatus int) error {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}

	resp, err := s.client.doJSON(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()

		s.mu.Lock()
		if s.accessToken == token {
			err = s.refreshLocked(ctx)
		}
		token = s.accessToken
		s.mu.Unlock()
		if err != nil {
			return err
		}

		if resp, err = s.client.doJSON(ctx, method, path, token, body); err != nil {
			return err
		}
	}
	return decodeJSON(resp, target, expectedStatus)
}

// Me returns the caller's profile.
func (s *Session) Me(ctx context.Context) (*User, error) {
	var out User
	if err := s.do(ctx, http.MethodGet, "/me", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes this session. The Session is unusable afterwards.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	access, refresh := s.accessToken, s.refreshToken
	s.accessToken, s.refreshToken, s.expiresAt = "", "", time.Time{}
	s.mu.Unlock()

	return s.client.Logout(ctx, access, refresh)
}

// LogoutAll revokes every session of the user, including this one.
func (s *Session) LogoutAll(ctx context.Context) (int64, error) {
	var out LogoutAllResponse
	if err := s.do(ctx, http.MethodPost, "/logout-all", nil, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.SessionsRevoked, nil
}

// SetupMFA generates a TOTP secret. MFA stays disabled until EnableMFA
// confirms a code from it.
func (s *Session) SetupMFA(ctx context.Context) (*MFASetupResponse, error) {
	var out MFASetupResponse
	if err := s.do(ctx, http.MethodPost, "/setup-mfa", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableMFA confirms the pending secret with a current code.
func (s *Session) EnableMFA(ctx context.Context, code string) error {
	return s.do(ctx, http.MethodPost, "/enable-mfa", EnableMFARequest{Token: code}, nil, http.StatusOK)
}

// Metrics returns service counters. Requires the admin role.
func (s *Session) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var out MetricsResponse
	if err := s.do(ctx, http.MethodGet, "/metrics", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
