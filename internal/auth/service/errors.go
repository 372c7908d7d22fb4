package service

import (
	"errors"
	"time"
)

// Kind classifies a workflow failure. The HTTP layer maps kinds to status
// codes; the kind string is also the public error code.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindEmailTaken         Kind = "email_taken"
	KindInvalidToken       Kind = "invalid_or_expired_token"
	KindInvalidMFACode     Kind = "invalid_mfa_code"
	KindRateLimited        Kind = "rate_limited"
	KindSessionInvalid     Kind = "session_invalid"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindUnavailable        Kind = "service_unavailable"
)

// Error is returned by every AuthService workflow. Message is safe to show
// to the caller; the wrapped Err is for logs only.
type Error struct {
	Kind    Kind
	Message string

	// Fields carries per-field messages for validation errors.
	Fields map[string]string

	// ResetAt is set for rate-limit errors.
	ResetAt time.Time

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrEmailNotVerified   = &Error{Kind: KindEmailNotVerified}
	ErrEmailTaken         = &Error{Kind: KindEmailTaken}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrInvalidMFACode     = &Error{Kind: KindInvalidMFACode}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrSessionInvalid     = &Error{Kind: KindSessionInvalid}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
)

// Caller-facing messages. Login failures share one message whatever the cause.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidToken       = "Invalid or expired token"
	msgInvalidMFACode     = "Invalid MFA code"
	msgSessionInvalid     = "Session is invalid or has expired"
	msgUnavailable        = "Service temporarily unavailable"

	// GenericResetMessage is returned by password-reset requests whether or
	// not the account exists.
	GenericResetMessage = "If the email exists, a reset link has been sent"

	// GenericResendMessage is the equivalent for verification resends.
	GenericResendMessage = "If the account exists and is unverified, a verification email has been sent"
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "Validation failed", Fields: fields}
}

func unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Message: msgUnavailable, Err: err}
}

// AsError returns err as an *Error, wrapping unknown errors as unavailable.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return unavailable(err)
}
