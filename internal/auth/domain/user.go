package domain

import "time"

// Roles understood by the role checks.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

type User struct {
	ID           string
	Email        string // lower-cased, unique
	PasswordHash string // bcrypt or argon2id PHC string
	Role         string
	FirstName    string
	LastName     string

	EmailVerified         bool
	EmailVerificationHash *string // fingerprint of the emailed token, cleared on use

	MFASecret  *string // base32, set by MFA setup
	MFAEnabled bool    // only after a verified code

	PasswordResetHash   *string
	PasswordResetExpiry *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// UserUpdate is a partial update; nil fields are left alone. The Clear*
// flags null out the single-use token columns.
type UserUpdate struct {
	PasswordHash *string
	FirstName    *string
	LastName     *string

	EmailVerified              *bool
	ClearEmailVerificationHash bool
	EmailVerificationHash      *string

	MFASecret  *string
	MFAEnabled *bool

	PasswordResetHash   *string
	PasswordResetExpiry *time.Time
	ClearPasswordReset  bool

	LastLoginAt *time.Time
}

// PublicUser is the projection of a user that may leave the service.
type PublicUser struct {
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

// Public strips credentials and token hashes.
func (u User) Public() PublicUser {
	return PublicUser{
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
