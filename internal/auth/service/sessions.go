package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/token"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

func tokenRejectReason(err error) string {
	if errors.Is(err, token.ErrTokenExpired) {
		return "expired"
	}
	return "invalid"
}

// Refresh rotates the session holding refreshToken. A refresh token works
// exactly once; replaying it after rotation fails with a session error.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta domain.RequestMeta) (TokenResult, error) {
	claims, err := s.tokens.Verify(refreshToken, jwtx.TypeRefresh)
	if err != nil {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "refresh", "reason": tokenRejectReason(err)}, "", meta)
		return TokenResult{}, newError(KindInvalidToken, msgInvalidToken)
	}

	sess, pair, err := s.sessions.Rotate(ctx, refreshToken, claims.Subject, s.tokens.Issue, meta)
	if errors.Is(err, session.ErrSessionInvalid) {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "refresh", "reason": "session_not_found"}, claims.Subject, meta)
		return TokenResult{}, newError(KindSessionInvalid, msgSessionInvalid)
	}
	if err != nil {
		return TokenResult{}, unavailable(err)
	}

	user, err := s.store.Users().GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = s.sessions.Invalidate(ctx, pair.RefreshToken)
		return TokenResult{}, newError(KindSessionInvalid, msgSessionInvalid)
	}
	if err != nil {
		return TokenResult{}, unavailable(err)
	}

	s.log(ctx, domain.EventSessionRefreshed, map[string]any{"sessionId": sess.ID}, user.ID, meta)
	return TokenResult{User: user.Public(), Tokens: pair}, nil
}

// Logout invalidates the sessions holding either token. It succeeds
// whether or not a session was found.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, meta domain.RequestMeta) error {
	var userID string
	for _, tok := range []string{accessToken, refreshToken} {
		if tok == "" || userID != "" {
			continue
		}
		if sess, err := s.sessions.FindActiveByAccessToken(ctx, tok); err == nil {
			userID = sess.UserID
		} else if sess, err := s.sessions.FindActiveByRefreshToken(ctx, tok); err == nil {
			userID = sess.UserID
		}
	}

	var removed int
	var firstErr error
	for _, tok := range []string{accessToken, refreshToken} {
		ok, err := s.sessions.Invalidate(ctx, tok)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			removed++
		}
	}

	s.log(ctx, domain.EventSessionInvalidated, map[string]any{"sessionsRemoved": removed}, userID, meta)
	if firstErr != nil {
		return unavailable(firstErr)
	}
	return nil
}

// LogoutAll signs userID out everywhere and reports how many sessions ended.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta domain.RequestMeta) (int64, error) {
	n, err := s.sessions.InvalidateAll(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	s.log(ctx, domain.EventAllSessionsInvalidated, map[string]any{"sessionsRemoved": n}, userID, meta)
	return n, nil
}

// Authenticate resolves an access token to its caller. The token must
// verify and its session must still exist, so logout and password reset
// take effect before the token's own expiry.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (httpx.Principal, error) {
	claims, err := s.tokens.Verify(accessToken, jwtx.TypeAccess)
	if err != nil {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "access", "reason": tokenRejectReason(err)}, "", domain.RequestMeta{})
		return httpx.Principal{}, newError(KindUnauthorized, msgInvalidToken)
	}

	sess, err := s.sessions.FindActiveByAccessToken(ctx, accessToken)
	if errors.Is(err, session.ErrSessionInvalid) || (err == nil && sess.UserID != claims.Subject) {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "access", "reason": "session_not_found"}, claims.Subject, domain.RequestMeta{})
		return httpx.Principal{}, newError(KindSessionInvalid, msgSessionInvalid)
	}
	if err != nil {
		return httpx.Principal{}, unavailable(err)
	}

	user, err := s.store.Users().GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return httpx.Principal{}, newError(KindSessionInvalid, msgSessionInvalid)
	}
	if err != nil {
		return httpx.Principal{}, unavailable(err)
	}

	return httpx.Principal{
		UserID:        user.ID,
		SessionID:     sess.ID,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.MFAEnabled,
	}, nil
}
