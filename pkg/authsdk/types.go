package authsdk

import (
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName,omitempty" validate:"max=100"`
	LastName  string `json:"lastName,omitempty" validate:"max=100"`
}

// LoginRequest is the body of POST /login. MFAToken, when set, is a TOTP
// code for accounts with MFA enabled.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	MFAToken string `json:"mfaToken,omitempty" validate:"omitempty,len=6,numeric"`
}

// MFALoginRequest redeems a login challenge with a TOTP code.
type MFALoginRequest struct {
	MFAToken string `json:"mfaToken" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// TokenRequest carries a single-use token (email verification) or a TOTP
// code (MFA enable).
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type EnableMFARequest struct {
	Token string `json:"token" validate:"required,len=6,numeric"`
}

// User is the public profile returned by the service.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	EmailVerified bool       `json:"isEmailVerified"`
	MFAEnabled    bool       `json:"isMfaEnabled"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// AuthResponse is returned by login and refresh. When RequiresMFA is set
// only MFAToken and MFATokenExpiresAt are filled.
type AuthResponse struct {
	User                  *User     `json:"user,omitempty"`
	AccessToken           string    `json:"accessToken,omitempty"`
	RefreshToken          string    `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt,omitzero"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt,omitzero"`

	RequiresMFA       bool      `json:"requiresMfa,omitempty"`
	MFAToken          string    `json:"mfaToken,omitempty"`
	MFATokenExpiresAt time.Time `json:"mfaTokenExpiresAt,omitzero"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type MFASetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthURL"`
}

type LogoutAllResponse struct {
	Message         string `json:"message"`
	SessionsRevoked int64  `json:"sessionsRevoked"`
}

// HealthResponse is returned by /health and /livez.
type HealthResponse struct {
	Status   string        `json:"status"`
	Database string        `json:"database,omitempty"`
	Uptime   string        `json:"uptime"`
	Version  string        `json:"version"`
	Audit    *WorkerHealth `json:"audit,omitempty"`
	Mailer   *WorkerHealth `json:"mailer,omitempty"`
}

// WorkerHealth summarises a background queue.
type WorkerHealth struct {
	Provider  string `json:"provider,omitempty"`
	Queued    int    `json:"queued"`
	Sent      uint64 `json:"sent,omitempty"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Breaker   string `json:"breaker,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

type MetricsResponse struct {
	Users              int64 `json:"users"`
	ActiveSessions     int64 `json:"activeSessions"`
	AuditEventsLast24h int64 `json:"auditEventsLast24h"`
}

// JWKSResponse is the JSON Web Key Set published by EdDSA deployments.
type JWKSResponse jwtx.JWKS

// UserResponse is returned by /register and /verify-email.
type UserResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}
