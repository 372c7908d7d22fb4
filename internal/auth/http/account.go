package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// AccountHandler serves email verification, password reset and profile
// endpoints.
type AccountHandler struct {
	Service *service.AuthService
}

// HandleVerifyEmail handles POST /verify-email
//
//	@Summary		Verify email
//	@Description	Redeems the token sent at registration.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.TokenRequest	true	"Verification token"
//	@Success		200		{object}	authsdk.UserResponse
//	@Failure		400		{object}	authsdk.APIError	"Invalid or expired token"
//	@Router			/verify-email [post].
func (h *AccountHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Service.VerifyEmail(r.Context(), req.Token, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.UserResponse{
		Message: "Email verified successfully",
		User:    toUser(user),
	})
}

// HandleResendVerification handles POST /resend-verification
//
//	@Summary		Resend verification email
//	@Description	Sends a fresh verification link. The response does not reveal whether the account exists.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.EmailRequest	true	"Email"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Router			/resend-verification [post].
func (h *AccountHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req authsdk.EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := h.Service.ResendVerification(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: msg})
}

// HandleForgotPassword handles POST /forgot-password
//
//	@Summary		Request a password reset
//	@Description	Emails a reset link valid for one hour. The response does not reveal whether the account exists.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.EmailRequest	true	"Email"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Router			/forgot-password [post].
func (h *AccountHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := h.Service.RequestPasswordReset(r.Context(), req.Email, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: msg})
}

// HandleResetPassword handles POST /reset-password
//
//	@Summary		Reset password
//	@Description	Sets a new password using a reset token and revokes every session of the account.
//	@Tags			Account
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.ResetPasswordRequest	true	"Token and new password"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Failure		400		{object}	authsdk.APIError	"Invalid or expired token, or weak password"
//	@Router			/reset-password [post].
func (h *AccountHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Service.ResetPassword(r.Context(), req.Token, req.Password, requestMeta(r)); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "Password reset successfully"})
}

// HandleMe handles GET /me
//
//	@Summary		Current user
//	@Tags			Account
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.User
//	@Failure		401	{object}	authsdk.APIError	"Invalid or missing access token"
//	@Router			/me [get].
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	user, err := h.Service.Me(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(user))
}
