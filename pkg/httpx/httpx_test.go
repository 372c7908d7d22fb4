package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestClientIP(t *testing.T) {
	trusted, err := httpx.ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	resolve := func(remote string, headers map[string]string) string {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		var got string
		httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = httpx.ClientIP(r)
		}), httpx.ClientIPMiddleware(trusted)).ServeHTTP(httptest.NewRecorder(), req)
		return got
	}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "socket peer", remote: "203.0.113.9:1234", want: "203.0.113.9"},
		{
			name:    "untrusted peer cannot spoof X-Forwarded-For",
			remote:  "203.0.113.9:1234",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7"},
			want:    "203.0.113.9",
		},
		{
			name:    "untrusted peer cannot spoof X-Real-IP",
			remote:  "203.0.113.9:1234",
			headers: map[string]string{"X-Real-IP": "198.51.100.7"},
			want:    "203.0.113.9",
		},
		{
			name:    "trusted proxy forwards the client",
			remote:  "192.168.1.1:1234",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7"},
			want:    "198.51.100.7",
		},
		{
			name:    "rightmost untrusted hop wins",
			remote:  "10.0.0.2:1234",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.7, 10.0.0.5"},
			want:    "198.51.100.7",
		},
		{
			name:    "garbage hop stops the walk",
			remote:  "10.0.0.2:1234",
			headers: map[string]string{"X-Forwarded-For": "nonsense, 10.0.0.5"},
			want:    "10.0.0.5",
		},
		{
			name:    "trusted proxy with X-Real-IP",
			remote:  "10.0.0.2:1234",
			headers: map[string]string{"X-Real-IP": "198.51.100.8"},
			want:    "198.51.100.8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolve(tt.remote, tt.headers))
		})
	}

	t.Run("without the middleware only the socket counts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		require.Equal(t, "203.0.113.9", httpx.ClientIP(req))
	})
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := httpx.ParseTrustedProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies([]string{"proxy.internal"})
	require.Error(t, err)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler, mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTimeoutSetsDeadline(t *testing.T) {
	var hasDeadline bool
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}), httpx.Timeout(time.Second))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, hasDeadline)
}

func TestRateLimitMiddleware(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockx.NewFake(start)
	policy := ratelimit.Policy{Name: "test", Limit: 2, Window: time.Minute}

	var hooked int
	hook := func(*http.Request, ratelimit.Policy, string, ratelimit.Result) { hooked++ }
	h := httpx.Chain(okHandler, httpx.RateLimitMiddleware(ratelimit.NewMemory(clock), policy, httpx.ClientIP, clock, hook))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for range 2 {
		rec := call("10.0.0.1")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := call("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, 1, hooked)

	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "rate_limited", body.Error)
	require.NotNil(t, body.ResetAt)
	require.True(t, body.ResetAt.Equal(start.Add(time.Minute)))

	// A different client is unaffected.
	require.Equal(t, http.StatusNoContent, call("10.0.0.2").Code)

	clock.Advance(time.Minute)
	require.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("backend down")
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	h := httpx.Chain(okHandler, httpx.RateLimitMiddleware(failingLimiter{}, ratelimit.General, httpx.ClientIP, nil, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

type stubAuthenticator map[string]httpx.Principal

func (s stubAuthenticator) Authenticate(_ context.Context, tok string) (httpx.Principal, error) {
	p, ok := s[tok]
	if !ok {
		return httpx.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

func TestAuthnMiddleware(t *testing.T) {
	authn := stubAuthenticator{
		"good":  {UserID: "u1", Role: "user", EmailVerified: true},
		"admin": {UserID: "u2", Role: "admin", EmailVerified: true, MFAEnabled: true},
	}

	var seen httpx.Principal
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = httpx.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		httpx.Chain(capture, httpx.AuthnMiddleware(authn)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		httpx.Chain(capture, httpx.AuthnMiddleware(authn)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		httpx.Chain(capture, httpx.AuthnMiddleware(authn)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "u1", seen.UserID)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: httpx.AccessTokenCookie, Value: "admin"})
		rec := httptest.NewRecorder()
		httpx.Chain(capture, httpx.AuthnMiddleware(authn)).ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "u2", seen.UserID)
	})

	tests := []struct {
		name  string
		token string
		mw    httpx.Middleware
		want  int
	}{
		{"role denied", "good", httpx.RequireRole("admin", "super_admin"), http.StatusForbidden},
		{"role granted", "admin", httpx.RequireRole("admin", "super_admin"), http.StatusOK},
		{"mfa denied", "good", httpx.RequireMFA(), http.StatusForbidden},
		{"mfa granted", "admin", httpx.RequireMFA(), http.StatusOK},
		{"verified granted", "good", httpx.RequireVerifiedEmail(), http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			httpx.Chain(capture, httpx.AuthnMiddleware(authn), tc.mw).ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCookieWriter(t *testing.T) {
	exp := time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	httpx.CookieWriter{Secure: true}.SetTokens(rec, "a", exp, "r", exp.Add(time.Hour))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		require.True(t, c.HttpOnly)
		require.True(t, c.Secure)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	}

	rec = httptest.NewRecorder()
	httpx.CookieWriter{}.Clear(rec)
	for _, c := range rec.Result().Cookies() {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
	}
}
