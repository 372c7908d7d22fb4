package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID).
type KeyExtractor func(*http.Request) string

// UserKey keys by authenticated user id, or "" when unauthenticated.
func UserKey(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return ""
}

// CompositeKeyExtractor takes the first extractor that yields a key.
func CompositeKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				return key
			}
		}
		return ""
	}
}

// RateLimitHook observes rejected requests, for audit logging.
type RateLimitHook func(r *http.Request, policy ratelimit.Policy, key string, res ratelimit.Result)

// RateLimitMiddleware applies policy per key. A backend failure is logged and
// the request let through.
func RateLimitMiddleware(l ratelimit.Limiter, policy ratelimit.Policy, key KeyExtractor, clock clockx.Clock, onLimited RateLimitHook) Middleware {
	clock = clockx.Or(clock)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			k := key(r)
			if k == "" {
				log.Warn("rate limit: unable to extract key, allowing request", "policy", policy.Name)
				next.ServeHTTP(w, r)
				return
			}

			res, err := policy.Allow(ctx, l, k)
			if err != nil {
				log.Error("rate limit backend failed, allowing request", "policy", policy.Name, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			SetRateLimitHeaders(w, res)
			if !res.Allowed {
				log.Warn("rate limit exceeded", "policy", policy.Name, "key", k, "endpoint", r.URL.Path)
				if onLimited != nil {
					onLimited(r, policy, k, res)
				}
				WriteRateLimited(w, res, clock.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for res.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// WriteRateLimited writes a 429 with Retry-After.
func WriteRateLimited(w http.ResponseWriter, res ratelimit.Result, now time.Time) {
	w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter(now).Seconds())))
	resetAt := res.ResetAt.UTC()
	WriteError(w, http.StatusTooManyRequests, ErrorBody{
		Error:            "rate_limited",
		ErrorDescription: "Too many requests. Please try again later.",
		ResetAt:          &resetAt,
	})
}
