package domain

import "time"

type AuditEvent string

const (
	EventUserCreated            AuditEvent = "USER_CREATED"
	EventUserLogin              AuditEvent = "USER_LOGIN"
	EventLoginFailed            AuditEvent = "LOGIN_FAILED"
	EventMFAChallengeIssued     AuditEvent = "MFA_CHALLENGE_ISSUED"
	EventMFASetupStarted        AuditEvent = "MFA_SETUP_STARTED"
	EventMFAEnabled             AuditEvent = "MFA_ENABLED"
	EventSessionCreated         AuditEvent = "SESSION_CREATED"
	EventSessionRefreshed       AuditEvent = "SESSION_REFRESHED"
	EventSessionInvalidated     AuditEvent = "SESSION_INVALIDATED"
	EventAllSessionsInvalidated AuditEvent = "ALL_SESSIONS_INVALIDATED"
	EventEmailVerified          AuditEvent = "EMAIL_VERIFIED"
	EventPasswordResetRequested AuditEvent = "PASSWORD_RESET_REQUESTED"
	EventPasswordReset          AuditEvent = "PASSWORD_RESET"
	EventRateLimited            AuditEvent = "RATE_LIMITED"
	EventTokenRejected          AuditEvent = "TOKEN_REJECTED"
)

// AuditEntry is an append-only security event. UserID is nil for events
// that precede resolving a user, such as a login for an unknown email.
type AuditEntry struct {
	ID        string
	EventType AuditEvent
	Details   map[string]any
	UserID    *string
	CreatedAt time.Time
}
