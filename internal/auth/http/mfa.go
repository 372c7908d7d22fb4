package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// MFAHandler handles TOTP enrollment.
type MFAHandler struct {
	Service *service.AuthService
}

// HandleSetup handles POST /setup-mfa
//
//	@Summary		Start TOTP enrollment
//	@Description	Generates a TOTP secret for the caller. MFA stays disabled until /enable-mfa confirms a code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.MFASetupResponse	"Secret and otpauth URL"
//	@Failure		400	{object}	authsdk.APIError			"MFA already enabled"
//	@Failure		401	{object}	authsdk.APIError			"Invalid or missing access token"
//	@Router			/setup-mfa [post].
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	enrollment, err := h.Service.SetupMFA(r.Context(), p.UserID, requestMeta(r))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	slogx.FromContext(r.Context()).Info("mfa setup started")
	httpx.WriteJSON(w, http.StatusOK, authsdk.MFASetupResponse{
		Secret:     enrollment.Secret,
		OTPAuthURL: enrollment.OTPAuthURL,
	})
}

// HandleEnable handles POST /enable-mfa
//
//	@Summary		Enable TOTP MFA
//	@Description	Confirms the pending secret with a current code and turns MFA on.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.EnableMFARequest	true	"Current TOTP code"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Failure		400		{object}	authsdk.APIError	"Invalid code or no pending setup"
//	@Failure		401		{object}	authsdk.APIError	"Invalid or missing access token"
//	@Router			/enable-mfa [post].
func (h *MFAHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req authsdk.EnableMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Service.EnableMFA(r.Context(), p.UserID, req.Token, requestMeta(r)); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "MFA enabled successfully"})
}
