package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

func (s *AuthService) userOrSessionError(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, newError(KindSessionInvalid, msgSessionInvalid)
	}
	if err != nil {
		return domain.User{}, unavailable(err)
	}
	return user, nil
}

// SetupMFA generates and stores a new TOTP secret. The secret has no effect
// on login until EnableMFA confirms a code from it.
func (s *AuthService) SetupMFA(ctx context.Context, userID string, meta domain.RequestMeta) (domain.MFAEnrollment, error) {
	user, err := s.userOrSessionError(ctx, userID)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}
	if user.MFAEnabled {
		return domain.MFAEnrollment{}, &Error{Kind: KindValidation, Message: "MFA is already enabled"}
	}

	enrollment, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return domain.MFAEnrollment{}, unavailable(err)
	}
	if _, err := s.store.Users().UpdateUser(ctx, user.ID, domain.UserUpdate{MFASecret: &enrollment.Secret}, s.clock.Now()); err != nil {
		return domain.MFAEnrollment{}, unavailable(err)
	}

	s.log(ctx, domain.EventMFASetupStarted, nil, user.ID, meta)
	return enrollment, nil
}

// EnableMFA turns on MFA once code matches the pending secret.
func (s *AuthService) EnableMFA(ctx context.Context, userID, code string, meta domain.RequestMeta) error {
	user, err := s.userOrSessionError(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFAEnabled {
		return &Error{Kind: KindValidation, Message: "MFA is already enabled"}
	}
	if user.MFASecret == nil || *user.MFASecret == "" {
		return &Error{Kind: KindValidation, Message: "MFA setup has not been started"}
	}

	if !s.totp.VerifyCode(*user.MFASecret, strings.TrimSpace(code)) {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "mfa_enable"}, user.ID, meta)
		return newError(KindInvalidMFACode, msgInvalidMFACode)
	}

	if _, err := s.store.Users().UpdateUser(ctx, user.ID, domain.UserUpdate{MFAEnabled: boolPtr(true)}, s.clock.Now()); err != nil {
		return unavailable(err)
	}
	s.log(ctx, domain.EventMFAEnabled, nil, user.ID, meta)
	return nil
}
