package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// refreshSkew is how long before expiry a Session refreshes its access token.
const refreshSkew = 30 * time.Second

// SDKClient is a client for the authcore service. It covers the public
// endpoints and creates Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Now is used to decide when a Session's access token needs refreshing.
	// Defaults to time.Now.
	Now func() time.Time
}

// NewSDKClient creates a client for baseURL.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Now: time.Now,
	}
}

func (c *SDKClient) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Register creates an account. The account cannot log in until its email is
// verified.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var out UserResponse
	if err := c.call(ctx, http.MethodPost, "/register", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Login authenticates with email and password. For MFA-enabled accounts it
// returns *MFARequiredError; use LoginWithCode to send the TOTP code in the
// same request instead.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*Session, error) {
	return c.LoginWithCode(ctx, email, password, "")
}

// LoginWithCode authenticates with email, password and a TOTP code.
func (c *SDKClient) LoginWithCode(ctx context.Context, email, password, code string) (*Session, error) {
	var out AuthResponse
	req := LoginRequest{Email: email, Password: password, MFAToken: code}
	if err := c.call(ctx, http.MethodPost, "/login", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.RequiresMFA {
		return nil, &MFARequiredError{MFAToken: out.MFAToken, ExpiresAt: out.MFATokenExpiresAt}
	}
	return newSession(c, &out), nil
}

// CompleteMFA redeems the challenge returned by Login.
func (c *SDKClient) CompleteMFA(ctx context.Context, mfaToken, code string) (*Session, error) {
	var out AuthResponse
	req := MFALoginRequest{MFAToken: mfaToken, Code: code}
	if err := c.call(ctx, http.MethodPost, "/login/mfa", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, &out), nil
}

// AuthenticateWithRefreshToken creates a session from a stored refresh token.
// The token is rotated in the process.
func (c *SDKClient) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	out, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// Refresh exchanges a refresh token for a new pair. Prefer Session, which
// does this automatically.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.call(ctx, http.MethodPost, "/refresh", RefreshRequest{RefreshToken: refreshToken}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session owning the given tokens. It succeeds even when
// the tokens are already invalid.
func (c *SDKClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	req := LogoutRequest{Token: accessToken, RefreshToken: refreshToken}
	return c.call(ctx, http.MethodPost, "/logout", req, nil, http.StatusOK)
}

// VerifyEmail redeems an email verification token.
func (c *SDKClient) VerifyEmail(ctx context.Context, token string) (*User, error) {
	var out UserResponse
	if err := c.call(ctx, http.MethodPost, "/verify-email", TokenRequest{Token: token}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// ResendVerification asks for a new verification email. The reply is the
// same whether or not the account exists.
func (c *SDKClient) ResendVerification(ctx context.Context, email string) (string, error) {
	var out MessageResponse
	if err := c.call(ctx, http.MethodPost, "/resend-verification", EmailRequest{Email: email}, &out, http.StatusOK); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ForgotPassword requests a password reset email. The reply is the same
// whether or not the account exists.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out MessageResponse
	if err := c.call(ctx, http.MethodPost, "/forgot-password", EmailRequest{Email: email}, &out, http.StatusOK); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ResetPassword sets a new password with a reset token. Every session of the
// account is revoked.
func (c *SDKClient) ResetPassword(ctx context.Context, token, password string) error {
	req := ResetPasswordRequest{Token: token, Password: password}
	return c.call(ctx, http.MethodPost, "/reset-password", req, nil, http.StatusOK)
}

// Health returns the service health. A degraded service answers 503 with the
// same body, which is returned alongside the error.
func (c *SDKClient) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	resp, err := c.doJSON(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		if derr := decodeJSON(resp, &out, http.StatusServiceUnavailable); derr != nil {
			return nil, derr
		}
		return &out, ErrServiceUnavailable
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// JWKS fetches the public signing keys. The set is empty for HS256
// deployments.
func (c *SDKClient) JWKS(ctx context.Context) (*JWKSResponse, error) {
	var out JWKSResponse
	if err := c.call(ctx, http.MethodGet, "/.well-known/jwks.json", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
