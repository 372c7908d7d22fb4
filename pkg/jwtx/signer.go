package jwtx

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmEdDSA = "EdDSA"
)

// MinHMACSecretLen is the shortest HS256 secret accepted (256 bits).
const MinHMACSecretLen = 32

// Signer signs claims with one process-wide key and exposes what a
// Verifier needs to check them.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)

	// VerificationKey is the key handed to the jwt parser.
	VerificationKey() any

	// PublicJWK returns the publishable key, or false for symmetric keys.
	PublicJWK() (JWK, bool)
}

type hmacSigner struct {
	kid    string
	secret []byte
}

// NewSignerHS256 returns a signer backed by a shared secret.
func NewSignerHS256(kid string, secret []byte) (Signer, error) {
	if len(secret) < MinHMACSecretLen {
		return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes", MinHMACSecretLen)
	}
	return &hmacSigner{kid: kid, secret: secret}, nil
}

func (s *hmacSigner) Alg() string          { return AlgorithmHS256 }
func (s *hmacSigner) KID() string          { return s.kid }
func (s *hmacSigner) VerificationKey() any { return s.secret }

func (s *hmacSigner) PublicJWK() (JWK, bool) { return JWK{}, false }

func (s *hmacSigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.secret)
}

type eddsaSigner struct {
	kid string
	key ed25519.PrivateKey
	pub ed25519.PublicKey
}

// NewSignerEdDSA loads an Ed25519 private key from a PKCS8 PEM block.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for Ed25519 key")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY, got %q (Ed25519 requires PKCS8)", block.Type)
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an Ed25519 private key")
	}

	return &eddsaSigner{
		kid: kid,
		key: key,
		pub: key.Public().(ed25519.PublicKey),
	}, nil
}

func (s *eddsaSigner) Alg() string          { return AlgorithmEdDSA }
func (s *eddsaSigner) KID() string          { return s.kid }
func (s *eddsaSigner) VerificationKey() any { return s.pub }

func (s *eddsaSigner) PublicJWK() (JWK, bool) {
	return NewEd25519JWK(s.kid, s.pub), true
}

func (s *eddsaSigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}
