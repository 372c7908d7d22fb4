package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// InitSigner builds the token signer for the configured algorithm.
//
// HS256 uses AUTH_JWT_SECRET. EdDSA loads the PKCS8 key at
// AUTH_SIGNING_KEY_FILE, generating it on first start; its public half is
// published at /.well-known/jwks.json. Losing the key file invalidates every
// outstanding token.
func InitSigner(cfg Config, logger *slog.Logger) (jwtx.Signer, error) {
	switch cfg.Algorithm {
	case jwtx.AlgorithmHS256:
		return jwtx.NewSignerHS256(cfg.SigningKeyKID, []byte(cfg.JWTSecret))

	case jwtx.AlgorithmEdDSA:
		pemKey, created, err := cryptox.LoadOrCreateEd25519Key(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		if created {
			logger.Warn("generated new Ed25519 signing key", "path", cfg.SigningKeyFile)
		}
		return jwtx.NewSignerEdDSA(cfg.SigningKeyKID, pemKey)

	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
}

// InitPasswordHasher loads (or creates) the pepper and returns the hasher for
// the configured algorithm.
func InitPasswordHasher(cfg Config) (cryptox.PasswordHasher, error) {
	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return cryptox.PasswordHasher{}, fmt.Errorf("failed to load pepper: %w", err)
	}
	return cryptox.NewPasswordHasher(cfg.PasswordHash, pepper), nil
}
