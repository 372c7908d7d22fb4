package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	authhttp "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/internal/auth/store/storetest"
	"github.com/aussiebroadwan/authcore/internal/auth/token"
	"github.com/aussiebroadwan/authcore/internal/auth/totp"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
)

const (
	email    = "a@b.com"
	password = "Passw0rd!"
)

type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (o *outbox) Enqueue(m mailer.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return true
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	m := tokenParam.FindStringSubmatch(o.msgs[len(o.msgs)-1].HTML)
	require.Len(t, m, 2)
	return m[1]
}

type auditEntry struct {
	event domain.AuditEvent
	ip    string
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *auditRecorder) Log(_ context.Context, event domain.AuditEvent, _ map[string]any, _ string, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{event: event, ip: ip})
}

func (a *auditRecorder) count(event domain.AuditEvent) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	router *authhttp.Router
	st     store.Store
	clock  *clockx.Fake
	totp   *totp.Manager
	mail   *outbox
	audit  *auditRecorder
	hasher cryptox.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clock := clockx.NewFake(storetest.Base)
	signer, err := jwtx.NewSignerHS256("test", []byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	limiter := ratelimit.NewMemory(clock)

	f := &fixture{
		st:     st,
		clock:  clock,
		totp:   totp.NewManager("AuthCore", clock),
		mail:   &outbox{},
		audit:  &auditRecorder{},
		hasher: cryptox.PasswordHasher{Algorithm: cryptox.AlgorithmBcrypt, BcryptCost: 4},
	}

	svc := service.New(service.Deps{
		Store:       st,
		Credentials: credential.New(f.hasher),
		TOTP:        f.totp,
		Tokens:      token.NewIssuer(signer, token.Config{Issuer: "authcore"}, clock),
		Sessions:    session.New(st, clock),
		Audit:       f.audit,
		Limiter:     limiter,
		Mail:        f.mail,
		Templates:   mailer.NewTemplates("https://app.test", "AuthCore"),
		Clock:       clock,
	}, service.Config{})

	f.router = authhttp.NewRouter(authhttp.RouterConfig{
		Service:  svc,
		Signer:   signer,
		Limiter:  limiter,
		Policies: authhttp.Policies{General: ratelimit.General, Login: ratelimit.Login, User: ratelimit.User},
		Clock:    clock,
		Audit:    f.audit,
	})
	f.router.ApplyRoutes()
	return f
}

type request struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
	header  map[string]string
}

func (f *fixture) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if req.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *fixture) registerVerified(t *testing.T) authsdk.User {
	t.Helper()

	w := f.do(t, request{method: http.MethodPost, path: "/register", body: authsdk.RegisterRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, request{method: http.MethodPost, path: "/verify-email", body: authsdk.TokenRequest{Token: f.mail.lastToken(t)}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[authsdk.UserResponse](t, w).User
}

func (f *fixture) login(t *testing.T) authsdk.AuthResponse {
	t.Helper()
	w := f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[authsdk.AuthResponse](t, w)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	t.Run("created", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/register", body: authsdk.RegisterRequest{
			Email: email, Password: password, FirstName: "Ada",
		}})
		require.Equal(t, http.StatusCreated, w.Code)

		resp := decode[authsdk.UserResponse](t, w)
		require.Equal(t, email, resp.User.Email)
		require.Equal(t, "Ada", resp.User.FirstName)
		require.False(t, resp.User.EmailVerified)
		require.NotContains(t, w.Body.String(), "password")
	})

	t.Run("duplicate", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/register", body: authsdk.RegisterRequest{Email: email, Password: password}})
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, authsdk.ErrorCodeEmailTaken, decode[authsdk.APIError](t, w).Code)
	})

	t.Run("field errors", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/register", body: map[string]string{"email": "nope", "password": "x"}})
		require.Equal(t, http.StatusBadRequest, w.Code)

		body := decode[authsdk.APIError](t, w)
		require.Equal(t, authsdk.ErrorCodeValidation, body.Code)
		require.Contains(t, body.Fields, "email")
		require.Contains(t, body.Fields, "password")
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{"))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, authsdk.ErrorCodeInvalidRequest, decode[authsdk.APIError](t, w).Code)
	})
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodPost, path: "/register", body: authsdk.RegisterRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, authsdk.ErrorCodeEmailNotVerified, decode[authsdk.APIError](t, w).Code)

	w = f.do(t, request{method: http.MethodPost, path: "/verify-email", body: authsdk.TokenRequest{Token: f.mail.lastToken(t)}})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("unknown email and wrong password look the same", func(t *testing.T) {
		wrong := f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: "Wr0ngPass!"}})
		unknown := f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: "x@b.com", Password: password}})

		require.Equal(t, http.StatusUnauthorized, wrong.Code)
		require.Equal(t, wrong.Code, unknown.Code)
		require.Equal(t, wrong.Body.String(), unknown.Body.String())
	})

	t.Run("success sets cookies", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password}})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

		resp := decode[authsdk.AuthResponse](t, w)
		require.False(t, resp.RequiresMFA)
		require.NotEmpty(t, resp.AccessToken)
		require.NotEmpty(t, resp.RefreshToken)
		require.Equal(t, email, resp.User.Email)

		cookies := map[string]*http.Cookie{}
		for _, c := range w.Result().Cookies() {
			cookies[c.Name] = c
		}
		require.Equal(t, resp.AccessToken, cookies[httpx.AccessTokenCookie].Value)
		require.True(t, cookies[httpx.RefreshTokenCookie].HttpOnly)
		require.Equal(t, http.SameSiteStrictMode, cookies[httpx.RefreshTokenCookie].SameSite)
	})
}

func TestLoginRateLimit(t *testing.T) {
	f := newFixture(t)

	body := authsdk.LoginRequest{Email: "x@b.com", Password: password}
	for range ratelimit.Login.Limit {
		w := f.do(t, request{method: http.MethodPost, path: "/login", body: body})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := f.do(t, request{method: http.MethodPost, path: "/login", body: body})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "900", w.Header().Get("Retry-After"))

	resp := decode[authsdk.APIError](t, w)
	require.Equal(t, authsdk.ErrorCodeRateLimited, resp.Code)
	require.NotNil(t, resp.ResetAt)
	require.True(t, resp.ResetAt.Equal(storetest.Base.Add(ratelimit.Login.Window)))

	f.clock.Advance(ratelimit.Login.Window)
	w = f.do(t, request{method: http.MethodPost, path: "/login", body: body})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	f := newFixture(t)

	body := authsdk.LoginRequest{Email: "x@b.com", Password: password}
	for i := range ratelimit.Login.Limit {
		w := f.do(t, request{method: http.MethodPost, path: "/login", body: body, header: map[string]string{
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+1),
		}})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := f.do(t, request{method: http.MethodPost, path: "/login", body: body, header: map[string]string{
		"X-Forwarded-For": "198.51.100.99",
	}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

// TestMalformedLoginsAreCounted checks requests that fail field checks still
// consume the login budget and reach the audit log.
func TestMalformedLoginsAreCounted(t *testing.T) {
	f := newFixture(t)
	user := f.registerVerified(t)

	enrollment, err := f.totp.GenerateSecret(email)
	require.NoError(t, err)
	enabled := true
	_, err = f.st.Users().UpdateUser(t.Context(), user.ID, domain.UserUpdate{
		MFASecret:  &enrollment.Secret,
		MFAEnabled: &enabled,
	}, f.clock.Now())
	require.NoError(t, err)

	malformed := []any{
		authsdk.LoginRequest{Email: email, Password: password, MFAToken: "12"},
		authsdk.LoginRequest{Email: "not-an-email", Password: password},
		authsdk.LoginRequest{Email: email},
		map[string]string{},
		authsdk.LoginRequest{Email: email, Password: "Wr0ngPass!", MFAToken: "abcdef"},
	}
	for _, body := range malformed {
		w := f.do(t, request{method: http.MethodPost, path: "/login", body: body})
		require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	}
	require.Equal(t, len(malformed), f.audit.count(domain.EventLoginFailed))

	// The right password is refused once the budget is spent.
	w := f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	first := f.login(t)

	f.clock.Advance(time.Second)

	// The refresh token may come from the cookie instead of the body.
	w := f.do(t, request{
		method:  http.MethodPost,
		path:    "/refresh",
		cookies: []*http.Cookie{{Name: httpx.RefreshTokenCookie, Value: first.RefreshToken}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[authsdk.AuthResponse](t, w)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	w = f.do(t, request{method: http.MethodPost, path: "/refresh", body: authsdk.RefreshRequest{RefreshToken: first.RefreshToken}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, authsdk.ErrorCodeSessionInvalid, decode[authsdk.APIError](t, w).Code)

	w = f.do(t, request{method: http.MethodPost, path: "/refresh", body: authsdk.RefreshRequest{RefreshToken: "garbage"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidToken, decode[authsdk.APIError](t, w).Code)

	w = f.do(t, request{method: http.MethodGet, path: "/me", bearer: second.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	tokens := f.login(t)

	w := f.do(t, request{method: http.MethodGet, path: "/me", bearer: tokens.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, email, decode[authsdk.User](t, w).Email)

	for range 2 {
		w = f.do(t, request{method: http.MethodPost, path: "/logout", body: authsdk.LogoutRequest{Token: tokens.AccessToken, RefreshToken: tokens.RefreshToken}})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = f.do(t, request{method: http.MethodGet, path: "/me", bearer: tokens.AccessToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	a := f.login(t)
	b := f.login(t)

	w := f.do(t, request{method: http.MethodPost, path: "/logout-all"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, request{method: http.MethodPost, path: "/logout-all", bearer: a.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, decode[authsdk.LogoutAllResponse](t, w).SessionsRevoked)

	w = f.do(t, request{method: http.MethodGet, path: "/me", bearer: b.AccessToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	tokens := f.login(t)

	unknown := f.do(t, request{method: http.MethodPost, path: "/forgot-password", body: authsdk.EmailRequest{Email: "x@b.com"}})
	known := f.do(t, request{method: http.MethodPost, path: "/forgot-password", body: authsdk.EmailRequest{Email: email}})
	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, unknown.Body.String(), known.Body.String())
	require.Equal(t, service.GenericResetMessage, decode[authsdk.MessageResponse](t, known).Message)

	resetToken := f.mail.lastToken(t)
	w := f.do(t, request{method: http.MethodPost, path: "/reset-password", body: authsdk.ResetPasswordRequest{Token: resetToken, Password: "N3wPassw0rd!"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, request{method: http.MethodPost, path: "/reset-password", body: authsdk.ResetPasswordRequest{Token: resetToken, Password: "An0therPass!"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidToken, decode[authsdk.APIError](t, w).Code)

	w = f.do(t, request{method: http.MethodGet, path: "/me", bearer: tokens.AccessToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMFAFlow(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	tokens := f.login(t)

	w := f.do(t, request{method: http.MethodPost, path: "/setup-mfa", bearer: tokens.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	setup := decode[authsdk.MFASetupResponse](t, w)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/"))

	w = f.do(t, request{method: http.MethodPost, path: "/enable-mfa", bearer: tokens.AccessToken, body: authsdk.EnableMFARequest{Token: "000000"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, authsdk.ErrorCodeInvalidMFACode, decode[authsdk.APIError](t, w).Code)

	code, err := f.totp.GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)
	w = f.do(t, request{method: http.MethodPost, path: "/enable-mfa", bearer: tokens.AccessToken, body: authsdk.EnableMFARequest{Token: code}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Password alone now yields a challenge.
	w = f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password}})
	require.Equal(t, http.StatusOK, w.Code)
	challenge := decode[authsdk.AuthResponse](t, w)
	require.True(t, challenge.RequiresMFA)
	require.NotEmpty(t, challenge.MFAToken)
	require.Empty(t, challenge.AccessToken)

	w = f.do(t, request{method: http.MethodPost, path: "/login/mfa", body: authsdk.MFALoginRequest{MFAToken: "bogus", Code: code}})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, request{method: http.MethodPost, path: "/login/mfa", body: authsdk.MFALoginRequest{MFAToken: challenge.MFAToken, Code: code}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decode[authsdk.AuthResponse](t, w).User.MFAEnabled)

	// A wrong code sent with the password is a login failure.
	w = f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: email, Password: password, MFAToken: "000000"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[authsdk.HealthResponse](t, w)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "connected", resp.Database)

	w = f.do(t, request{method: http.MethodGet, path: "/livez"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, f.st.Close())
	w = f.do(t, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "disconnected", decode[authsdk.HealthResponse](t, w).Database)
}

func TestMetricsRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t)
	user := f.login(t)

	w := f.do(t, request{method: http.MethodGet, path: "/metrics", bearer: user.AccessToken})
	require.Equal(t, http.StatusForbidden, w.Code)

	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	require.NoError(t, f.st.Users().CreateUser(context.Background(), domain.User{
		ID:            idx.New().String(),
		Email:         "admin@b.com",
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		EmailVerified: true,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}))
	w = f.do(t, request{method: http.MethodPost, path: "/login", body: authsdk.LoginRequest{Email: "admin@b.com", Password: password}})
	require.Equal(t, http.StatusOK, w.Code)
	admin := decode[authsdk.AuthResponse](t, w)

	w = f.do(t, request{method: http.MethodGet, path: "/metrics", bearer: admin.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[authsdk.MetricsResponse](t, w)
	require.EqualValues(t, 2, m.Users)
	require.EqualValues(t, 2, m.ActiveSessions)
}

func TestJWKSEmptyForHS256(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: "/.well-known/jwks.json"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decode[authsdk.JWKSResponse](t, w).Keys)
}
