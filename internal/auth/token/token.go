// Package token mints and checks the access/refresh JWT pair.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Issuer struct {
	signer   jwtx.Signer
	verifier *jwtx.Verifier
	cfg      Config
	clock    clockx.Clock
}

func NewIssuer(signer jwtx.Signer, cfg Config, clock clockx.Clock) *Issuer {
	clock = clockx.Or(clock)
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = jwtx.DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	return &Issuer{
		signer:   signer,
		verifier: jwtx.NewVerifier(signer, cfg.Issuer, clock.Now),
		cfg:      cfg,
		clock:    clock,
	}
}

// Issue mints a token pair for userID bound to sessionID.
func (i *Issuer) Issue(userID, sessionID string) (domain.TokenPair, error) {
	now := i.clock.Now()

	access := jwtx.NewClaims(userID, sessionID, jwtx.TypeAccess, i.cfg.Issuer, i.cfg.AccessTTL, now)
	accessTok, err := i.signer.Sign(access)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwtx.NewClaims(userID, sessionID, jwtx.TypeRefresh, i.cfg.Issuer, i.cfg.RefreshTTL, now)
	refreshTok, err := i.signer.Sign(refresh)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:      accessTok,
		RefreshToken:     refreshTok,
		AccessExpiresAt:  access.ExpiresAtTime(),
		RefreshExpiresAt: refresh.ExpiresAtTime(),
	}, nil
}

// Verify checks the signature, expiry and type claim of tok.
func (i *Issuer) Verify(tok string, expected jwtx.TokenType) (jwtx.Claims, error) {
	claims, err := i.verifier.Verify(tok)
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return jwtx.Claims{}, ErrTokenExpired
	case err != nil:
		return jwtx.Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Type != expected {
		return jwtx.Claims{}, fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalid, expected, claims.Type)
	}
	return claims, nil
}

// JWKS returns the published verification keys.
func (i *Issuer) JWKS() jwtx.JWKS {
	return jwtx.PublicJWKS(i.signer)
}

func (i *Issuer) AccessTTL() time.Duration  { return i.cfg.AccessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }
