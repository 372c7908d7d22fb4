package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// AuthHandler serves registration, login and session endpoints.
type AuthHandler struct {
	Service *service.AuthService
	Cookies httpx.CookieWriter
	Clock   clockx.Clock
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error, override statusOverride) {
	writeServiceErrorAt(w, r, err, override, clockx.Or(h.Clock).Now())
}

func toUser(u domain.PublicUser) authsdk.User {
	return authsdk.User{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		EmailVerified: u.EmailVerified,
		MFAEnabled:    u.MFAEnabled,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// writeTokens sets the token cookies and writes the pair with the user.
func (h *AuthHandler) writeTokens(w http.ResponseWriter, u domain.PublicUser, t domain.TokenPair) {
	h.Cookies.SetTokens(w, t.AccessToken, t.AccessExpiresAt, t.RefreshToken, t.RefreshExpiresAt)

	user := toUser(u)
	httpx.WriteJSON(w, http.StatusOK, authsdk.AuthResponse{
		User:                  &user,
		AccessToken:           t.AccessToken,
		RefreshToken:          t.RefreshToken,
		AccessTokenExpiresAt:  t.AccessExpiresAt,
		RefreshTokenExpiresAt: t.RefreshExpiresAt,
	})
}

// HandleRegister handles POST /register
//
//	@Summary		Register an account
//	@Description	Creates an unverified account and sends a verification email.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest	true	"Account details"
//	@Success		201		{object}	authsdk.UserResponse
//	@Failure		400		{object}	authsdk.APIError	"Validation failed"
//	@Failure		409		{object}	authsdk.APIError	"Email already registered"
//	@Failure		429		{object}	authsdk.APIError	"Rate limited"
//	@Router			/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Service.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, requestMeta(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.UserResponse{
		Message: "Registration successful. Please check your email to verify your account.",
		User:    toUser(user),
	})
}

// HandleLogin handles POST /login
//
//	@Summary		Log in
//	@Description	Authenticates with email and password. Accounts with MFA enabled either pass a TOTP code
//	@Description	in mfaToken or receive a challenge to redeem at /login/mfa.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.AuthResponse	"Tokens, or requiresMfa with a challenge"
//	@Failure		401		{object}	authsdk.APIError		"Invalid email or password"
//	@Failure		403		{object}	authsdk.APIError		"Email not verified"
//	@Failure		429		{object}	authsdk.APIError		"Too many attempts"
//	@Router			/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	// Field checks run in the service, after the login limit.
	var req authsdk.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFAToken,
	}, requestMeta(r))
	if err != nil {
		h.fail(w, r, err, statusOverride{service.KindInvalidMFACode: http.StatusUnauthorized})
		return
	}

	if res.Status == service.LoginMFARequired {
		httpx.WriteJSON(w, http.StatusOK, authsdk.AuthResponse{
			RequiresMFA:       true,
			MFAToken:          res.MFAToken,
			MFATokenExpiresAt: res.MFATokenExpiresAt,
		})
		return
	}
	h.writeTokens(w, res.User, res.Tokens)
}

// HandleLoginMFA handles POST /login/mfa
//
//	@Summary		Complete an MFA login
//	@Description	Redeems the challenge returned by /login with a TOTP code.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.MFALoginRequest	true	"Challenge and code"
//	@Success		200		{object}	authsdk.AuthResponse
//	@Failure		401		{object}	authsdk.APIError	"Invalid challenge or code"
//	@Failure		429		{object}	authsdk.APIError	"Rate limited"
//	@Router			/login/mfa [post].
func (h *AuthHandler) HandleLoginMFA(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFALoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Service.CompleteMFA(r.Context(), req.MFAToken, req.Code, requestMeta(r))
	if err != nil {
		h.fail(w, r, err, statusOverride{
			service.KindInvalidToken:   http.StatusUnauthorized,
			service.KindInvalidMFACode: http.StatusUnauthorized,
		})
		return
	}
	h.writeTokens(w, res.User, res.Tokens)
}

// HandleRefresh handles POST /refresh
//
//	@Summary		Rotate tokens
//	@Description	Exchanges a refresh token (body or refreshToken cookie) for a new pair. The old refresh token
//	@Description	stops working immediately.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	false	"Refresh token"
//	@Success		200		{object}	authsdk.AuthResponse
//	@Failure		401		{object}	authsdk.APIError	"Invalid, expired or rotated refresh token"
//	@Router			/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		req.RefreshToken = httpx.CookieValue(r, httpx.RefreshTokenCookie)
	}

	res, err := h.Service.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		h.Cookies.Clear(w)
		h.fail(w, r, err, statusOverride{service.KindInvalidToken: http.StatusUnauthorized})
		return
	}
	h.writeTokens(w, res.User, res.Tokens)
}

// HandleLogout handles POST /logout
//
//	@Summary		Log out
//	@Description	Revokes the session owning the given tokens and clears the cookies. Always succeeds.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LogoutRequest	false	"Tokens"
//	@Success		200		{object}	authsdk.MessageResponse
//	@Router			/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LogoutRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Token == "" {
		req.Token = httpx.BearerToken(r)
	}
	if req.RefreshToken == "" {
		req.RefreshToken = httpx.CookieValue(r, httpx.RefreshTokenCookie)
	}

	h.Cookies.Clear(w)
	if err := h.Service.Logout(r.Context(), req.Token, req.RefreshToken, requestMeta(r)); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "Logged out successfully"})
}

// HandleLogoutAll handles POST /logout-all
//
//	@Summary		Log out everywhere
//	@Description	Revokes every session of the caller, including the current one.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.LogoutAllResponse
//	@Failure		401	{object}	authsdk.APIError	"Invalid or missing access token"
//	@Router			/logout-all [post].
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	n, err := h.Service.LogoutAll(r.Context(), p.UserID, requestMeta(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	h.Cookies.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutAllResponse{
		Message:         "Logged out from all devices",
		SessionsRevoked: n,
	})
}
