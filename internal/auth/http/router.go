package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/audit"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"

	_ "github.com/aussiebroadwan/authcore/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Policies are the rate limits applied at the HTTP edge. Login attempts are
// limited inside the service, so Login here only covers the other
// credential-bearing endpoints.
type Policies struct {
	General ratelimit.Policy
	Login   ratelimit.Policy
	User    ratelimit.Policy
}

// DefaultPolicies returns the built-in policies with env overrides applied.
func DefaultPolicies() Policies {
	return Policies{
		General: ratelimit.General.FromEnv(),
		Login:   ratelimit.Login.FromEnv(),
		User:    ratelimit.User.FromEnv(),
	}
}

// AuditHealth and MailHealth report background worker state for /health.
type AuditHealth interface{ Health() audit.Health }
type MailHealth interface{ Health() mailer.Health }

// RouterConfig carries the router's dependencies. Audit, AuditHealth and
// MailHealth are optional.
type RouterConfig struct {
	Service      *service.AuthService
	Signer       jwtx.Signer
	Limiter      ratelimit.Limiter
	Policies     Policies
	Cookies      httpx.CookieWriter
	Clock        clockx.Clock
	Audit        service.Auditor
	AuditHealth  AuditHealth
	MailHealth   MailHealth
	BuildVersion string
	Logger       *slog.Logger

	// RequestTimeout bounds each request's context. Zero disables it.
	RequestTimeout time.Duration

	// TrustedProxies may set X-Forwarded-For. Without any, rate limits and
	// audit entries use the socket peer.
	TrustedProxies httpx.TrustedProxies
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	svc          *service.AuthService
	signer       jwtx.Signer
	limiter      ratelimit.Limiter
	policies     Policies
	cookies      httpx.CookieWriter
	clock        clockx.Clock
	audit        service.Auditor
	auditHealth  AuditHealth
	mailHealth   MailHealth
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.Policies == (Policies{}) {
		cfg.Policies = DefaultPolicies()
	}
	clock := clockx.Or(cfg.Clock)

	r := &Router{
		Mux:          http.NewServeMux(),
		svc:          cfg.Service,
		signer:       cfg.Signer,
		limiter:      cfg.Limiter,
		policies:     cfg.Policies,
		cookies:      cfg.Cookies,
		clock:        clock,
		audit:        cfg.Audit,
		auditHealth:  cfg.AuditHealth,
		mailHealth:   cfg.MailHealth,
		buildVersion: cfg.BuildVersion,
		startTime:    clock.Now(),
		logger:       cfg.Logger,
	}

	r.middlewares = []httpx.Middleware{
		httpx.ClientIPMiddleware(cfg.TrustedProxies),
		slogx.HTTPMiddleware(r.logger),
		httpx.Timeout(cfg.RequestTimeout),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerAccount()
	r.registerMFA()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authcore API
//	@version		0.1.0
//	@description	Email and password authentication with optional TOTP second factor.
//	@description
//	@description				Access and refresh tokens are JWTs bound to a server-side session. Refresh tokens rotate on every use.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authcore
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// byIP and byUser wrap httpx.RateLimitMiddleware with the router's limiter,
// clock and audit hook.
func (r *Router) byIP(p ratelimit.Policy) httpx.Middleware {
	return httpx.RateLimitMiddleware(r.limiter, p, httpx.ClientIP, r.clock, r.auditLimited)
}

func (r *Router) byUser(p ratelimit.Policy) httpx.Middleware {
	return httpx.RateLimitMiddleware(r.limiter, p, httpx.UserKey, r.clock, r.auditLimited)
}

func (r *Router) auditLimited(req *http.Request, p ratelimit.Policy, key string, res ratelimit.Result) {
	if r.audit == nil {
		return
	}
	userID := httpx.UserKey(req)
	r.audit.Log(req.Context(), domain.EventRateLimited, map[string]any{
		"policy":   p.Name,
		"endpoint": req.URL.Path,
		"resetAt":  res.ResetAt.UTC().Format(time.RFC3339),
	}, userID, httpx.ClientIP(req))
}

// scoped gives p its own counters for one endpoint.
func scoped(p ratelimit.Policy, endpoint string) ratelimit.Policy {
	p.Name += "_" + endpoint
	return p
}

// authn verifies the bearer token and resolves the session row.
func (r *Router) authn() httpx.Middleware {
	return httpx.AuthnMiddleware(r.svc)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Service: r.svc, Cookies: r.cookies, Clock: r.clock}

	// POST /register - general limit by IP
	r.Mux.Handle("POST /register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			r.byIP(r.policies.General),
		),
	)

	// POST /login - the service applies the login policy per IP itself
	r.Mux.Handle("POST /login", http.HandlerFunc(h.HandleLogin))

	// POST /login/mfa - strict limit by IP (TOTP brute force)
	r.Mux.Handle("POST /login/mfa",
		httpx.Chain(http.HandlerFunc(h.HandleLoginMFA),
			r.byIP(scoped(r.policies.Login, "mfa")),
		),
	)

	r.Mux.Handle("POST /refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			r.byIP(r.policies.General),
		),
	)

	r.Mux.Handle("POST /logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			r.byIP(r.policies.General),
		),
	)

	// Authenticated endpoint - limited by user. Middlewares run outermost
	// first, so authn must come before the per-user limiter.
	r.Mux.Handle("POST /logout-all",
		httpx.Chain(http.HandlerFunc(h.HandleLogoutAll),
			r.authn(),
			r.byUser(r.policies.User),
		),
	)
}

func (r *Router) registerAccount() {
	h := &AccountHandler{Service: r.svc}

	r.Mux.Handle("POST /verify-email",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyEmail),
			r.byIP(r.policies.General),
		),
	)
	r.Mux.Handle("POST /resend-verification",
		httpx.Chain(http.HandlerFunc(h.HandleResendVerification),
			r.byIP(scoped(r.policies.Login, "resend")),
		),
	)
	r.Mux.Handle("POST /forgot-password",
		httpx.Chain(http.HandlerFunc(h.HandleForgotPassword),
			r.byIP(scoped(r.policies.Login, "forgot")),
		),
	)
	r.Mux.Handle("POST /reset-password",
		httpx.Chain(http.HandlerFunc(h.HandleResetPassword),
			r.byIP(scoped(r.policies.Login, "reset")),
		),
	)
	r.Mux.Handle("GET /me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			r.authn(),
			r.byUser(r.policies.User),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{Service: r.svc}

	r.Mux.Handle("POST /setup-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			r.authn(),
			r.byUser(r.policies.User),
		),
	)
	r.Mux.Handle("POST /enable-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleEnable),
			r.authn(),
			r.byUser(r.policies.User),
		),
	)
}

func (r *Router) registerSystem() {
	// Probes are not rate limited; monitors poll them.
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion, r.clock))
	r.Mux.Handle("GET /health", HealthHandler(r.startTime, r.buildVersion, r.clock, r.svc, r.auditHealth, r.mailHealth))

	r.Mux.Handle("GET /metrics",
		httpx.Chain(MetricsHandler(r.svc),
			r.authn(),
			httpx.RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin),
			r.byUser(r.policies.User),
		),
	)

	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.signer),
			r.byIP(r.policies.General),
		),
	)
}
