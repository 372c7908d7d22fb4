package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

type LoginInput struct {
	Email    string
	Password string

	// MFACode is a TOTP code supplied alongside the password. When empty
	// and the account has MFA enabled, Login returns a challenge instead.
	MFACode string
}

type LoginStatus string

const (
	LoginAuthenticated LoginStatus = "authenticated"
	LoginMFARequired   LoginStatus = "mfa_required"
)

// LoginResult is either an authenticated session (User and Tokens set) or a
// pending second factor (MFAToken set).
type LoginResult struct {
	Status LoginStatus

	User   domain.PublicUser
	Tokens domain.TokenPair

	MFAToken          string
	MFATokenExpiresAt time.Time
}

// TokenResult is returned by refresh.
type TokenResult struct {
	User   domain.PublicUser
	Tokens domain.TokenPair
}

// checkLoginLimit counts one login attempt for the caller's IP. A limiter
// backend failure rejects the attempt.
func (s *AuthService) checkLoginLimit(ctx context.Context, meta domain.RequestMeta) error {
	key := meta.IP
	if key == "" {
		key = "unknown"
	}
	res, err := s.cfg.LoginPolicy.Allow(ctx, s.limiter, key)
	if err != nil {
		return unavailable(err)
	}
	if !res.Allowed {
		s.log(ctx, domain.EventRateLimited, map[string]any{"policy": s.cfg.LoginPolicy.Name}, "", meta)
		return &Error{Kind: KindRateLimited, Message: "Too many attempts, try again later", ResetAt: res.ResetAt}
	}
	return nil
}

// Login runs the password step and, for MFA accounts, either issues a
// challenge or checks the supplied TOTP code.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta domain.RequestMeta) (LoginResult, error) {
	if err := s.checkLoginLimit(ctx, meta); err != nil {
		return LoginResult{}, err
	}

	email := credential.NormalizeEmail(in.Email)
	if s.creds.ValidateEmail(email) != nil || in.Password == "" {
		s.log(ctx, domain.EventLoginFailed, map[string]any{"email": email, "reason": "malformed"}, "", meta)
		return LoginResult{}, newError(KindInvalidCredentials, msgInvalidCredentials)
	}

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same hashing time as a real account.
		s.creds.Verify(in.Password, s.creds.DummyHash())
		s.log(ctx, domain.EventLoginFailed, map[string]any{"email": email, "reason": "unknown_email"}, "", meta)
		return LoginResult{}, newError(KindInvalidCredentials, msgInvalidCredentials)
	}
	if err != nil {
		return LoginResult{}, unavailable(err)
	}

	if !s.creds.Verify(in.Password, user.PasswordHash) {
		s.log(ctx, domain.EventLoginFailed, map[string]any{"email": email, "reason": "bad_password"}, user.ID, meta)
		return LoginResult{}, newError(KindInvalidCredentials, msgInvalidCredentials)
	}

	if !user.EmailVerified {
		s.log(ctx, domain.EventLoginFailed, map[string]any{"email": email, "reason": "email_not_verified"}, user.ID, meta)
		return LoginResult{}, newError(KindEmailNotVerified, "Please verify your email before logging in")
	}

	var upd domain.UserUpdate
	if s.creds.NeedsRehash(user.PasswordHash) {
		if h, err := s.creds.CreateCredential(in.Password); err == nil {
			upd.PasswordHash = &h
		} else if !errors.Is(err, credential.ErrWeakPassword) {
			slogx.FromContext(ctx).Warn("failed to rehash password", "user_id", user.ID, "error", err)
		}
	}

	if user.MFAEnabled {
		code := strings.TrimSpace(in.MFACode)
		if code == "" {
			return s.issueChallenge(ctx, user, upd, meta)
		}
		if user.MFASecret == nil || !s.totp.VerifyCode(*user.MFASecret, code) {
			s.log(ctx, domain.EventLoginFailed, map[string]any{"email": email, "reason": "invalid_mfa_code"}, user.ID, meta)
			return LoginResult{}, newError(KindInvalidMFACode, msgInvalidMFACode)
		}
	}

	return s.completeLogin(ctx, user, upd, "password", meta)
}

func (s *AuthService) issueChallenge(ctx context.Context, user domain.User, upd domain.UserUpdate, meta domain.RequestMeta) (LoginResult, error) {
	tok, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return LoginResult{}, unavailable(err)
	}

	now := s.clock.Now()
	c := domain.MFAChallenge{
		ID:        idx.NewAt(now).String(),
		UserID:    user.ID,
		TokenHash: cryptox.FingerprintToken(tok),
		ExpiresAt: now.Add(s.cfg.MFAChallengeTTL),
		CreatedAt: now,
	}
	if upd.PasswordHash != nil {
		c.PasswordRehash = *upd.PasswordHash
	}
	if err := s.store.MFAChallenges().Create(ctx, c); err != nil {
		return LoginResult{}, unavailable(err)
	}

	s.log(ctx, domain.EventMFAChallengeIssued, map[string]any{"challengeId": c.ID}, user.ID, meta)
	return LoginResult{Status: LoginMFARequired, MFAToken: tok, MFATokenExpiresAt: c.ExpiresAt}, nil
}

// CompleteMFA redeems a login challenge with a TOTP code. A challenge
// survives wrong codes until MaxMFAAttempts is reached.
func (s *AuthService) CompleteMFA(ctx context.Context, mfaToken, code string, meta domain.RequestMeta) (LoginResult, error) {
	if mfaToken == "" {
		return LoginResult{}, newError(KindInvalidToken, msgInvalidToken)
	}

	c, err := s.store.MFAChallenges().GetActive(ctx, cryptox.FingerprintToken(mfaToken), s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "mfa_challenge"}, "", meta)
		return LoginResult{}, newError(KindInvalidToken, msgInvalidToken)
	}
	if err != nil {
		return LoginResult{}, unavailable(err)
	}

	user, err := s.store.Users().GetUserByID(ctx, c.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, unavailable(err)
	}
	if err != nil || !user.MFAEnabled || user.MFASecret == nil {
		_ = s.store.MFAChallenges().Delete(ctx, c.ID)
		return LoginResult{}, newError(KindInvalidToken, msgInvalidToken)
	}

	if !s.totp.VerifyCode(*user.MFASecret, strings.TrimSpace(code)) {
		attempts, err := s.store.MFAChallenges().IncrementAttempts(ctx, c.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, unavailable(err)
		}
		if attempts >= s.cfg.MaxMFAAttempts {
			_ = s.store.MFAChallenges().Delete(ctx, c.ID)
		}
		s.log(ctx, domain.EventLoginFailed, map[string]any{"reason": "invalid_mfa_code", "attempts": attempts}, user.ID, meta)
		return LoginResult{}, newError(KindInvalidMFACode, msgInvalidMFACode)
	}

	// Deleting the challenge is the redemption; a concurrent redeemer loses.
	if err := s.store.MFAChallenges().Delete(ctx, c.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, newError(KindInvalidToken, msgInvalidToken)
		}
		return LoginResult{}, unavailable(err)
	}

	var upd domain.UserUpdate
	if c.PasswordRehash != "" {
		upd.PasswordHash = &c.PasswordRehash
	}
	return s.completeLogin(ctx, user, upd, "mfa", meta)
}

func (s *AuthService) completeLogin(ctx context.Context, user domain.User, upd domain.UserUpdate, method string, meta domain.RequestMeta) (LoginResult, error) {
	now := s.clock.Now()
	upd.LastLoginAt = &now

	user, err := s.store.Users().UpdateUser(ctx, user.ID, upd, now)
	if err != nil {
		return LoginResult{}, unavailable(err)
	}

	sess, pair, err := s.sessions.Create(ctx, user.ID, s.tokens.Issue, meta)
	if err != nil {
		return LoginResult{}, unavailable(err)
	}

	s.log(ctx, domain.EventUserLogin, map[string]any{
		"email":     user.Email,
		"method":    method,
		"sessionId": sess.ID,
		"rehashed":  upd.PasswordHash != nil,
	}, user.ID, meta)

	return LoginResult{Status: LoginAuthenticated, User: user.Public(), Tokens: pair}, nil
}
