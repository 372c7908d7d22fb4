package httpx

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Authenticator resolves an access token to a principal. Any error means
// the token is unusable.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (Principal, error)
}

// BearerToken extracts the access token from the Authorization header,
// falling back to the access token cookie.
func BearerToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return CookieValue(r, AccessTokenCookie)
}

// AuthnMiddleware rejects requests without a valid access token and attaches
// the principal to the context.
func AuthnMiddleware(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw := BearerToken(r)
			if raw == "" {
				writeBearerError(w, "access token required")
				return
			}

			p, err := a.Authenticate(ctx, raw)
			if err != nil {
				slogx.FromContext(ctx).Debug("access token rejected", "err", err)
				writeBearerError(w, "invalid or expired token")
				return
			}

			ctx = WithPrincipal(ctx, p)
			ctx = slogx.With(ctx, "user_id", p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits principals holding one of roles.
func RequireRole(roles ...string) Middleware {
	return require(func(p Principal) bool {
		return slices.Contains(roles, p.Role)
	}, "insufficient_role", "Insufficient permissions")
}

// RequireVerifiedEmail admits principals whose email is verified.
func RequireVerifiedEmail() Middleware {
	return require(func(p Principal) bool {
		return p.EmailVerified
	}, "email_not_verified", "Email verification required")
}

// RequireMFA admits principals with MFA enabled.
func RequireMFA() Middleware {
	return require(func(p Principal) bool {
		return p.MFAEnabled
	}, "mfa_required", "Multi-factor authentication required")
}

func require(ok func(Principal) bool, code, desc string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, found := PrincipalFrom(r.Context())
			if !found {
				writeBearerError(w, "access token required")
				return
			}
			if !ok(p) {
				WriteError(w, http.StatusForbidden, ErrorBody{Error: code, ErrorDescription: desc})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RFC 6750 error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, ErrorBody{Error: "unauthorized", ErrorDescription: desc})
}
