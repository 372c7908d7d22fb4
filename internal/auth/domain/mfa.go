package domain

import "time"

// MFAChallenge is a pending second factor after a correct password.
type MFAChallenge struct {
	ID        string
	UserID    string
	TokenHash string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time

	// PasswordRehash replaces the stored password hash on redemption. Empty
	// when the current hash is up to date.
	PasswordRehash string
}

// MFAEnrollment is returned by MFA setup for QR rendering.
type MFAEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthURL"`
}
