// Package totp enrolls and checks RFC 6238 time-based one-time passwords.
//
// Codes are six digits over 30 second steps. Verification accepts two steps
// either side of the current time. A code stays replayable inside that
// window because the last consumed step is not tracked.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
)

const (
	Period      = 30
	DefaultSkew = 2
)

type Manager struct {
	issuer string
	skew   uint
	clock  clockx.Clock
}

func NewManager(issuer string, clock clockx.Clock) *Manager {
	return &Manager{issuer: issuer, skew: DefaultSkew, clock: clockx.Or(clock)}
}

func (m *Manager) opts() pqtotp.ValidateOpts {
	return pqtotp.ValidateOpts{
		Period:    Period,
		Skew:      m.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateSecret creates a new base32 secret for label. Nothing is stored.
func (m *Manager) GenerateSecret(label string) (domain.MFAEnrollment, error) {
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: label,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}
	return domain.MFAEnrollment{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// VerifyCode checks code against secret at the current time.
func (m *Manager) VerifyCode(secret, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 || secret == "" {
		return false
	}
	ok, err := pqtotp.ValidateCustom(code, secret, m.clock.Now(), m.opts())
	return err == nil && ok
}

// GenerateCode returns the code for secret at t.
func (m *Manager) GenerateCode(secret string, t time.Time) (string, error) {
	return pqtotp.GenerateCodeCustom(secret, t, m.opts())
}
