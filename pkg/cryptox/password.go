package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost is the bcrypt work factor used when none is configured.
const DefaultBcryptCost = 12

// Argon2id parameters (OWASP minimums).
const (
	argonMemory      = 19 * 1024 // KiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

var (
	ErrPasswordMismatch = errors.New("cryptox: password does not match")
	ErrUnknownHash      = errors.New("cryptox: unrecognised hash format")
)

// PasswordHasher produces and checks salted password hashes. Every password
// is first run through HMAC-SHA256 keyed with the pepper so the secret never
// lives in the database and bcrypt's 72 byte input limit is never hit.
type PasswordHasher struct {
	Algorithm  string // bcrypt (default) or argon2id
	BcryptCost int
	Pepper     string
}

// NewPasswordHasher returns a hasher with defaults filled in.
func NewPasswordHasher(algorithm string, pepper string) PasswordHasher {
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}
	return PasswordHasher{
		Algorithm:  algorithm,
		BcryptCost: DefaultBcryptCost,
		Pepper:     pepper,
	}
}

func (h PasswordHasher) peppered(password string) []byte {
	mac := hmac.New(sha256.New, []byte(h.Pepper))
	mac.Write([]byte(password))
	out := make([]byte, base64.RawStdEncoding.EncodedLen(sha256.Size))
	base64.RawStdEncoding.Encode(out, mac.Sum(nil))
	return out
}

func (h PasswordHasher) cost() int {
	if h.BcryptCost < bcrypt.MinCost {
		return DefaultBcryptCost
	}
	return h.BcryptCost
}

// Hash returns an encoded hash of password using the configured algorithm.
func (h PasswordHasher) Hash(password string) (string, error) {
	switch h.Algorithm {
	case AlgorithmArgon2id:
		return h.hashArgon2id(password)
	case AlgorithmBcrypt, "":
		out, err := bcrypt.GenerateFromPassword(h.peppered(password), h.cost())
		if err != nil {
			return "", fmt.Errorf("cryptox: bcrypt: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("cryptox: unsupported password algorithm %q", h.Algorithm)
	}
}

// Verify checks password against an encoded hash produced by either
// algorithm. It returns ErrPasswordMismatch on a wrong password.
func (h PasswordHasher) Verify(password, encoded string) error {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return h.verifyArgon2id(password, encoded)
	case isBcrypt(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), h.peppered(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	default:
		return ErrUnknownHash
	}
}

// NeedsRehash reports whether encoded was produced with a different
// algorithm or bcrypt cost than the hasher is configured for.
func (h PasswordHasher) NeedsRehash(encoded string) bool {
	switch h.Algorithm {
	case AlgorithmArgon2id:
		return !strings.HasPrefix(encoded, "$argon2id$")
	default:
		if !isBcrypt(encoded) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(encoded))
		return err != nil || cost != h.cost()
	}
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func (h PasswordHasher) hashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey(h.peppered(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// verifyArgon2id parses the PHC string: $argon2id$v=19$m=X,t=Y,p=Z$salt$hash
func (h PasswordHasher) verifyArgon2id(password, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrUnknownHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrUnknownHash
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrUnknownHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("%w: hash: %v", ErrUnknownHash, err)
	}

	got := argon2.IDKey(h.peppered(password), salt, iters, mem, par, uint32(len(want))) // #nosec G115
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
