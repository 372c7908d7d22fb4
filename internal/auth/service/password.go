package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

// RequestPasswordReset emails a single-use reset link valid for
// ResetTokenTTL. The returned message never reveals whether the account
// exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta domain.RequestMeta) (string, error) {
	if err := s.creds.ValidateEmail(email); err != nil {
		return "", validationError(map[string]string{"email": "must be a valid email address"})
	}
	email = credential.NormalizeEmail(email)

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.log(ctx, domain.EventPasswordResetRequested, map[string]any{"email": email, "accountFound": false}, "", meta)
		return GenericResetMessage, nil
	}
	if err != nil {
		return "", unavailable(err)
	}

	resetToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", unavailable(err)
	}
	now := s.clock.Now()
	expiry := now.Add(s.cfg.ResetTokenTTL)

	_, err = s.store.Users().UpdateUser(ctx, user.ID, domain.UserUpdate{
		PasswordResetHash:   strPtr(cryptox.FingerprintToken(resetToken)),
		PasswordResetExpiry: &expiry,
	}, now)
	if err != nil {
		return "", unavailable(err)
	}

	s.send(ctx, func() (mailer.Message, error) { return s.templates.PasswordReset(user.Email, resetToken) })
	s.log(ctx, domain.EventPasswordResetRequested, map[string]any{"email": email, "accountFound": true}, user.ID, meta)
	return GenericResetMessage, nil
}

// ResetPassword consumes a reset token, sets the new password and ends every
// session of the account.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string, meta domain.RequestMeta) error {
	if resetToken == "" {
		return newError(KindInvalidToken, msgInvalidToken)
	}
	hash := cryptox.FingerprintToken(resetToken)
	now := s.clock.Now()

	// Check the token before spending time on hashing.
	if _, err := s.store.Users().GetUserByResetHash(ctx, hash, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "password_reset"}, "", meta)
			return newError(KindInvalidToken, msgInvalidToken)
		}
		return unavailable(err)
	}

	newHash, err := s.creds.CreateCredential(newPassword)
	if err != nil {
		var pe *credential.PolicyError
		if errors.As(err, &pe) {
			return validationError(map[string]string{"password": strings.Join(pe.Failures, "; ")})
		}
		return unavailable(err)
	}

	var (
		userID  string
		revoked int64
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		user, err := tx.Users().ConsumeResetHash(ctx, hash, newHash, now)
		if err != nil {
			return err
		}
		userID = user.ID

		if revoked, err = tx.Sessions().DeleteByUser(ctx, user.ID); err != nil {
			return err
		}
		return tx.MFAChallenges().DeleteByUser(ctx, user.ID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindInvalidToken, msgInvalidToken)
	}
	if err != nil {
		return unavailable(err)
	}

	s.log(ctx, domain.EventPasswordReset, map[string]any{"sessionsRevoked": revoked}, userID, meta)
	return nil
}
