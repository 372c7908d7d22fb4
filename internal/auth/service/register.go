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
	"github.com/aussiebroadwan/authcore/pkg/idx"
)

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// validateCredentials checks email format and password strength together so
// both problems are reported at once.
func (s *AuthService) validateCredentials(email, password string) *Error {
	fields := map[string]string{}
	if err := s.creds.ValidateEmail(email); err != nil {
		fields["email"] = "must be a valid email address"
	}
	if err := s.creds.CheckStrength(password); err != nil {
		var pe *credential.PolicyError
		if errors.As(err, &pe) {
			fields["password"] = strings.Join(pe.Failures, "; ")
		} else {
			fields["password"] = err.Error()
		}
	}
	if len(fields) > 0 {
		return validationError(fields)
	}
	return nil
}

// Register creates an unverified account and sends the verification email.
// The email is best effort: a delivery failure leaves the account in place.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta domain.RequestMeta) (domain.PublicUser, error) {
	if verr := s.validateCredentials(in.Email, in.Password); verr != nil {
		return domain.PublicUser{}, verr
	}
	email := credential.NormalizeEmail(in.Email)

	_, err := s.store.Users().GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.PublicUser{}, newError(KindEmailTaken, "Email is already registered")
	case !errors.Is(err, store.ErrNotFound):
		return domain.PublicUser{}, unavailable(err)
	}

	hash, err := s.creds.CreateCredential(in.Password)
	if err != nil {
		return domain.PublicUser{}, unavailable(err)
	}

	verifyToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.PublicUser{}, unavailable(err)
	}

	now := s.clock.Now()
	user := domain.User{
		ID:                    idx.NewAt(now).String(),
		Email:                 email,
		PasswordHash:          hash,
		Role:                  domain.RoleUser,
		FirstName:             strings.TrimSpace(in.FirstName),
		LastName:              strings.TrimSpace(in.LastName),
		EmailVerificationHash: strPtr(cryptox.FingerprintToken(verifyToken)),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.PublicUser{}, newError(KindEmailTaken, "Email is already registered")
		}
		return domain.PublicUser{}, unavailable(err)
	}

	s.send(ctx, func() (mailer.Message, error) { return s.templates.Verification(email, verifyToken) })
	s.log(ctx, domain.EventUserCreated, map[string]any{"email": email}, user.ID, meta)

	return user.Public(), nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string, meta domain.RequestMeta) (domain.PublicUser, error) {
	if verifyToken == "" {
		return domain.PublicUser{}, newError(KindInvalidToken, msgInvalidToken)
	}

	user, err := s.store.Users().ConsumeVerificationHash(ctx, cryptox.FingerprintToken(verifyToken), s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		s.log(ctx, domain.EventTokenRejected, map[string]any{"tokenType": "email_verification"}, "", meta)
		return domain.PublicUser{}, newError(KindInvalidToken, msgInvalidToken)
	}
	if err != nil {
		return domain.PublicUser{}, unavailable(err)
	}

	s.log(ctx, domain.EventEmailVerified, nil, user.ID, meta)
	return user.Public(), nil
}

// ResendVerification issues a fresh verification token for an unverified
// account. The outcome is the same whether or not the account exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string, meta domain.RequestMeta) (string, error) {
	if err := s.creds.ValidateEmail(email); err != nil {
		return "", validationError(map[string]string{"email": "must be a valid email address"})
	}
	email = credential.NormalizeEmail(email)

	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return GenericResendMessage, nil
	}
	if err != nil {
		return "", unavailable(err)
	}
	if user.EmailVerified {
		return GenericResendMessage, nil
	}

	verifyToken, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", unavailable(err)
	}
	_, err = s.store.Users().UpdateUser(ctx, user.ID, domain.UserUpdate{
		EmailVerificationHash: strPtr(cryptox.FingerprintToken(verifyToken)),
	}, s.clock.Now())
	if err != nil {
		return "", unavailable(err)
	}

	s.send(ctx, func() (mailer.Message, error) { return s.templates.Verification(email, verifyToken) })
	return GenericResendMessage, nil
}
