// Package service implements the authentication workflows: registration,
// login with an optional TOTP second factor, refresh rotation, logout,
// email verification, password reset and MFA enrolment.
//
// AuthService holds no per-request state. Everything mutable lives in the
// store; audit events and emails are handed to asynchronous workers and
// never fail the workflow that produced them.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/token"
	"github.com/aussiebroadwan/authcore/internal/auth/totp"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

const (
	DefaultResetTokenTTL   = time.Hour
	DefaultMFAChallengeTTL = 5 * time.Minute
	DefaultMaxMFAAttempts  = 5
)

// Auditor records security events without blocking.
type Auditor interface {
	Log(ctx context.Context, event domain.AuditEvent, details map[string]any, userID, ip string)
}

// Mailer queues outbound email.
type Mailer interface {
	Enqueue(m mailer.Message) bool
}

type Config struct {
	ResetTokenTTL   time.Duration
	MFAChallengeTTL time.Duration
	MaxMFAAttempts  int

	// LoginPolicy limits login attempts per client IP.
	LoginPolicy ratelimit.Policy
}

func (c Config) withDefaults() Config {
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = DefaultResetTokenTTL
	}
	if c.MFAChallengeTTL <= 0 {
		c.MFAChallengeTTL = DefaultMFAChallengeTTL
	}
	if c.MaxMFAAttempts <= 0 {
		c.MaxMFAAttempts = DefaultMaxMFAAttempts
	}
	if c.LoginPolicy.Name == "" {
		c.LoginPolicy = ratelimit.Login
	}
	return c
}

// Deps are the collaborators of AuthService. All are required except
// Templates, which falls back to localhost links.
type Deps struct {
	Store       store.Store
	Credentials *credential.Verifier
	TOTP        *totp.Manager
	Tokens      *token.Issuer
	Sessions    *session.Store
	Audit       Auditor
	Limiter     ratelimit.Limiter
	Mail        Mailer
	Templates   mailer.Templates
	Clock       clockx.Clock
}

type AuthService struct {
	store     store.Store
	creds     *credential.Verifier
	totp      *totp.Manager
	tokens    *token.Issuer
	sessions  *session.Store
	audit     Auditor
	limiter   ratelimit.Limiter
	mail      Mailer
	templates mailer.Templates
	clock     clockx.Clock
	cfg       Config
}

func New(d Deps, cfg Config) *AuthService {
	if d.Templates.FrontendURL == "" {
		d.Templates = mailer.NewTemplates("", "")
	}
	return &AuthService{
		store:     d.Store,
		creds:     d.Credentials,
		totp:      d.TOTP,
		tokens:    d.Tokens,
		sessions:  d.Sessions,
		audit:     d.Audit,
		limiter:   d.Limiter,
		mail:      d.Mail,
		templates: d.Templates,
		clock:     clockx.Or(d.Clock),
		cfg:       cfg.withDefaults(),
	}
}

// Ping checks the store for the health endpoint.
func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *AuthService) log(ctx context.Context, event domain.AuditEvent, details map[string]any, userID string, meta domain.RequestMeta) {
	if details == nil {
		details = map[string]any{}
	}
	if meta.UserAgent != "" {
		details["userAgent"] = meta.UserAgent
	}
	s.audit.Log(ctx, event, details, userID, meta.IP)
}

// send renders and queues an email. Failures are logged only.
func (s *AuthService) send(ctx context.Context, render func() (mailer.Message, error)) {
	m, err := render()
	if err != nil {
		slogx.FromContext(ctx).Error("failed to render email", "error", err)
		return
	}
	if !s.mail.Enqueue(m) {
		slogx.FromContext(ctx).Warn("email not queued", slog.String("subject", m.Subject))
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
