// Package credential validates emails and passwords and owns password hashing.
package credential

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

const (
	MinPasswordLength = 8
	MaxEmailLength    = 254
)

var (
	ErrInvalidEmail = errors.New("invalid email format")
	ErrWeakPassword = errors.New("password does not meet requirements")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// PolicyError lists every password rule that failed.
type PolicyError struct {
	Failures []string
}

func (e *PolicyError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Failures, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrWeakPassword }

// Verifier checks credentials.
type Verifier struct {
	hasher cryptox.PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

func New(hasher cryptox.PasswordHasher) *Verifier {
	return &Verifier{hasher: hasher}
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (v *Verifier) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if len(email) == 0 || len(email) > MaxEmailLength || !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// CheckStrength applies the password policy. Character classes are ASCII
// only: other scripts count towards length but not towards a class.
func (v *Verifier) CheckStrength(password string) error {
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case 'a' <= r && r <= 'z':
			lower = true
		case 'A' <= r && r <= 'Z':
			upper = true
		case '0' <= r && r <= '9':
			digit = true
		}
	}

	var failures []string
	if len([]rune(password)) < MinPasswordLength {
		failures = append(failures, "must be at least 8 characters long")
	}
	if !lower {
		failures = append(failures, "must contain a lowercase letter")
	}
	if !upper {
		failures = append(failures, "must contain an uppercase letter")
	}
	if !digit {
		failures = append(failures, "must contain a digit")
	}
	if len(failures) > 0 {
		return &PolicyError{Failures: failures}
	}
	return nil
}

// CreateCredential checks the policy and returns the encoded hash.
func (v *Verifier) CreateCredential(password string) (string, error) {
	if err := v.CheckStrength(password); err != nil {
		return "", err
	}
	return v.hasher.Hash(password)
}

// Verify reports whether password matches hash. Unknown hash formats never match.
func (v *Verifier) Verify(password, hash string) bool {
	return v.hasher.Verify(password, hash) == nil
}

// NeedsRehash reports whether hash should be replaced with one produced by
// the current configuration.
func (v *Verifier) NeedsRehash(hash string) bool {
	return v.hasher.NeedsRehash(hash)
}

// DummyHash returns a hash to verify against when the account does not
// exist, so unknown emails cost as much as wrong passwords.
func (v *Verifier) DummyHash() string {
	v.dummyOnce.Do(func() {
		v.dummyHash, _ = v.hasher.Hash("dummy-password-for-timing")
	})
	return v.dummyHash
}
