package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/authcore/internal/auth/audit"
	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	httpapi "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/internal/auth/token"
	"github.com/aussiebroadwan/authcore/internal/auth/totp"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockx.Clock

	db      store.Store
	signer  jwtx.Signer
	limiter ratelimit.Limiter
	redis   *redis.Client

	auditLogger  *audit.Logger
	mailSender   mailer.Sender
	mail         *mailer.Dispatcher
	auth         *service.AuthService
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option adjusts an Application before it is wired.
type Option func(*Application)

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// WithClock replaces the system clock, for tests.
func WithClock(c clockx.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// WithMailSender replaces the sender chosen by MAIL_PROVIDER.
func WithMailSender(s mailer.Sender) Option {
	return func(a *Application) { a.mailSender = s }
}

// New creates an Application with all dependencies initialized. It connects
// to the database and applies migrations but starts nothing.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{cfg: cfg, clock: clockx.System{}}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = NewLogger(cfg, nil)
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	signer, err := InitSigner(cfg, app.logger)
	if err != nil {
		app.closeAll()
		return nil, fmt.Errorf("failed to initialize signing key: %w", err)
	}
	app.signer = signer

	if err := app.initLimiter(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.initWorkers(); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.closeAll()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		app.closeAll()
		return nil, err
	}

	return app, nil
}

// NewLogger builds the service logger from cfg. A nil out writes to stdout.
func NewLogger(cfg Config, out io.Writer) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "authcore",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  out,
	})
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Start launches the background workers. Serve or Run handle HTTP.
func (app *Application) Start() {
	app.auditLogger.Start()
	app.mail.Start()
	app.housekeeping.Start()
}

// Serve starts the workers and serves HTTP on l until Shutdown.
func (app *Application) Serve(l net.Listener) error {
	app.Start()
	app.logger.Info("auth service starting", "addr", l.Addr().String(), "version", BuildVersion, "driver", app.cfg.Driver)

	if err := app.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Run serves on the configured port and blocks until SIGINT/SIGTERM.
func (app *Application) Run() error {
	l, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.server.Addr, err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.Serve(l)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		_ = app.Shutdown()
		return err
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

// Shutdown stops accepting requests, drains the audit and mail queues within
// the grace period, then closes the database. Later calls return the first
// result.
func (app *Application) Shutdown() error {
	app.shutdownOnce.Do(func() { app.shutdownErr = app.shutdown() })
	return app.shutdownErr
}

func (app *Application) shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()
	if err := app.mail.Flush(ctx); err != nil {
		app.logger.Warn("mail queue not drained", "error", err)
	}
	app.mail.Stop()
	app.auditLogger.Stop()

	err := app.closeAll()
	app.logger.Info("auth service stopped")
	return err
}

// closeAll releases connections. Safe to call on a partially built app.
func (app *Application) closeAll() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStore connects to the configured database without migrating it.
func OpenStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DatabaseURL)
	default:
		return sqlite.NewStore(cfg.DatabaseFile)
	}
}

func (app *Application) initDatabase(ctx context.Context) error {
	db, err := OpenStore(ctx, app.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		app.closeAll()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.Driver)
	return nil
}

// initLimiter uses Redis when AUTH_REDIS_URL is set so every instance shares
// counters; otherwise counters live in process memory.
func (app *Application) initLimiter(ctx context.Context) error {
	if app.cfg.RedisURL == "" {
		app.limiter = ratelimit.NewMemory(app.clock)
		app.logger.Info("rate limiter: in-memory")
		return nil
	}

	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid AUTH_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.redis = client
	app.limiter = ratelimit.NewRedis(client, "authcore:ratelimit:", app.clock)
	app.logger.Info("rate limiter: redis", "addr", opts.Addr)
	return nil
}

func (app *Application) initWorkers() error {
	var sinks []audit.Sink
	if len(app.cfg.AuditKafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(app.cfg.AuditKafkaBrokers, app.cfg.AuditKafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to connect audit sink: %w", err)
		}
		sinks = append(sinks, sink)
		app.logger.Info("audit events mirrored to kafka", "topic", app.cfg.AuditKafkaTopic)
	}
	app.auditLogger = audit.NewLogger(app.db, app.logger, app.clock, app.cfg.AuditQueueSize, sinks...)

	sender := app.mailSender
	if sender == nil {
		var err error
		if sender, err = mailer.NewSender(app.cfg.Mail, app.logger); err != nil {
			return fmt.Errorf("failed to configure mail: %w", err)
		}
	}
	app.mail = mailer.NewDispatcher(sender, app.logger, mailer.DispatcherConfig{PerSecond: app.cfg.MailPerSecond})
	app.logger.Info("mail provider configured", "provider", sender.Name())
	return nil
}

func (app *Application) initServices() error {
	hasher, err := InitPasswordHasher(app.cfg)
	if err != nil {
		return err
	}

	app.auth = service.New(service.Deps{
		Store:       app.db,
		Credentials: credential.New(hasher),
		TOTP:        totp.NewManager(app.cfg.ProductName, app.clock),
		Tokens: token.NewIssuer(app.signer, token.Config{
			Issuer:     app.cfg.Issuer,
			AccessTTL:  app.cfg.AccessTTL,
			RefreshTTL: app.cfg.RefreshTTL,
		}, app.clock),
		Sessions:  session.New(app.db, app.clock),
		Audit:     app.auditLogger,
		Limiter:   app.limiter,
		Mail:      app.mail,
		Templates: mailer.NewTemplates(app.cfg.FrontendURL, app.cfg.ProductName),
		Clock:     app.clock,
	}, service.Config{LoginPolicy: ratelimit.Login.FromEnv()})

	app.housekeeping = service.NewHousekeepingService(app.db, app.logger, app.clock, app.cfg.HousekeepingInterval)
	return nil
}

func (app *Application) initHTTP() error {
	trusted, err := httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid AUTH_TRUSTED_PROXIES: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service:        app.auth,
		Signer:         app.signer,
		Limiter:        app.limiter,
		Policies:       httpapi.DefaultPolicies(),
		Cookies:        httpx.CookieWriter{Secure: app.cfg.CookieSecure},
		Clock:          app.clock,
		Audit:          app.auditLogger,
		AuditHealth:    app.auditLogger,
		MailHealth:     app.mail,
		BuildVersion:   BuildVersion,
		Logger:         app.logger,
		RequestTimeout: app.cfg.RequestTimeout,
		TrustedProxies: trusted,
	})
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
