package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
)

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.svc.Register(ctx, service.RegisterInput{
		Email:     "  A@B.com ",
		Password:  testPassword,
		FirstName: "Ada",
	}, meta)
	require.NoError(t, err)
	require.Equal(t, testEmail, u.Email)
	require.Equal(t, domain.RoleUser, u.Role)
	require.Equal(t, "Ada", u.FirstName)
	require.False(t, u.EmailVerified)

	stored, err := h.st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotEqual(t, testPassword, stored.PasswordHash)
	require.NotNil(t, stored.EmailVerificationHash)

	tok := h.mail.lastToken(t, testEmail)
	require.NotEqual(t, tok, *stored.EmailVerificationHash, "only the fingerprint is stored")
	require.Equal(t, 1, h.audit.count(domain.EventUserCreated))
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), service.RegisterInput{Email: "nope", Password: "short"}, meta)
	e := requireKind(t, err, service.KindValidation)
	require.Contains(t, e.Fields, "email")
	require.Contains(t, e.Fields["password"], "8 characters")
	require.ErrorIs(t, err, service.ErrValidation)
	require.Zero(t, h.mail.len())
}

func TestRegisterEmailTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, service.RegisterInput{Email: "A@b.COM", Password: testPassword}, meta)
	require.ErrorIs(t, err, service.ErrEmailTaken)
}

func TestRegisterSurvivesMailFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.reject = true

	u, err := h.svc.Register(context.Background(), service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)
}

func TestVerifyEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	tok := h.mail.lastToken(t, testEmail)

	u, err := h.svc.VerifyEmail(ctx, tok, meta)
	require.NoError(t, err)
	require.True(t, u.EmailVerified)

	_, err = h.svc.VerifyEmail(ctx, tok, meta)
	require.ErrorIs(t, err, service.ErrInvalidToken, "token is single use")

	_, err = h.svc.VerifyEmail(ctx, "", meta)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestVerifyEmailConcurrentRedemption(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	tok := h.mail.lastToken(t, testEmail)

	var (
		wg       sync.WaitGroup
		verified atomic.Int32
		rejected atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.VerifyEmail(ctx, tok, meta); err == nil {
				verified.Add(1)
			} else if service.AsError(err).Kind == service.KindInvalidToken {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, verified.Load())
	require.EqualValues(t, 7, rejected.Load())
	require.Equal(t, 1, h.audit.count(domain.EventEmailVerified))
}

func TestResendVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	first := h.mail.lastToken(t, testEmail)

	msg, err := h.svc.ResendVerification(ctx, testEmail, meta)
	require.NoError(t, err)
	require.Equal(t, service.GenericResendMessage, msg)
	second := h.mail.lastToken(t, testEmail)
	require.NotEqual(t, first, second)

	_, err = h.svc.VerifyEmail(ctx, first, meta)
	require.ErrorIs(t, err, service.ErrInvalidToken, "old token replaced")
	_, err = h.svc.VerifyEmail(ctx, second, meta)
	require.NoError(t, err)

	sent := h.mail.len()
	msg, err = h.svc.ResendVerification(ctx, "ghost@b.com", meta)
	require.NoError(t, err)
	require.Equal(t, service.GenericResendMessage, msg)
	require.Equal(t, sent, h.mail.len())
}
