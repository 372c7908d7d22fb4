package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
)

const newPassword = "N3wPassword"

func TestPasswordResetRequestIsGeneric(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t)
	ctx := context.Background()
	sent := h.mail.len()

	known, err := h.svc.RequestPasswordReset(ctx, testEmail, meta)
	require.NoError(t, err)
	unknown, err := h.svc.RequestPasswordReset(ctx, "ghost@b.com", meta)
	require.NoError(t, err)

	require.Equal(t, service.GenericResetMessage, known)
	require.Equal(t, known, unknown)
	require.Equal(t, sent+1, h.mail.len())
}

func TestResetPasswordInvalidatesSessions(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t)
	ctx := context.Background()

	a := h.login(t)
	b := h.login(t)

	_, err := h.svc.RequestPasswordReset(ctx, testEmail, meta)
	require.NoError(t, err)
	tok := h.mail.lastToken(t, testEmail)

	require.NoError(t, h.svc.ResetPassword(ctx, tok, newPassword, meta))

	for _, res := range []service.LoginResult{a, b} {
		_, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken, meta)
		require.ErrorIs(t, err, service.ErrSessionInvalid)
		_, err = h.svc.Authenticate(ctx, res.Tokens.AccessToken)
		require.Error(t, err)
	}

	err = h.svc.ResetPassword(ctx, tok, "An0therPassword", meta)
	require.ErrorIs(t, err, service.ErrInvalidToken, "reset token is single use")

	_, err = h.svc.Login(ctx, service.LoginInput{Email: testEmail, Password: testPassword}, meta)
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, err = h.svc.Login(ctx, service.LoginInput{Email: testEmail, Password: newPassword}, meta)
	require.NoError(t, err)
}

func TestResetPasswordExpiry(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t)
	ctx := context.Background()

	_, err := h.svc.RequestPasswordReset(ctx, testEmail, meta)
	require.NoError(t, err)
	tok := h.mail.lastToken(t, testEmail)

	h.clock.Advance(time.Hour + time.Second)
	err = h.svc.ResetPassword(ctx, tok, newPassword, meta)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestResetPasswordWeakPassword(t *testing.T) {
	h := newHarness(t)
	h.verifiedUser(t)
	ctx := context.Background()

	_, err := h.svc.RequestPasswordReset(ctx, testEmail, meta)
	require.NoError(t, err)
	tok := h.mail.lastToken(t, testEmail)

	err = h.svc.ResetPassword(ctx, tok, "weak", meta)
	e := requireKind(t, err, service.KindValidation)
	require.Contains(t, e.Fields, "password")

	require.NoError(t, h.svc.ResetPassword(ctx, tok, newPassword, meta), "token survives a rejected password")
}
