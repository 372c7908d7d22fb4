package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/authcore/internal/auth/audit"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver       string // sqlite or postgres (default: sqlite)
	DatabaseFile string // SQLite file (default: ./auth.db)
	DatabaseURL  string // Postgres URL, required for the postgres driver

	Issuer         string // iss claim (default: authcore)
	Algorithm      string // HS256 or EdDSA (default: HS256)
	JWTSecret      string // HS256 secret, at least 32 bytes
	SigningKeyKID  string // kid header (default: authcore-1)
	SigningKeyFile string // EdDSA PKCS8 PEM, created when missing (default: ./signing.pem)
	AccessTTL      time.Duration
	RefreshTTL     time.Duration

	PepperFile   string // created when missing (default: ./pepper)
	PasswordHash string // bcrypt or argon2id (default: bcrypt)

	RedisURL    string // enables the shared rate limiter
	FrontendURL string // base of links in emails (default: http://localhost:3000)
	ProductName string // shown in emails and authenticator apps (default: authcore)

	Mail          mailer.Config
	MailPerSecond float64

	AuditKafkaBrokers []string
	AuditKafkaTopic   string
	AuditQueueSize    int

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json, text (default: json)
	Port                 int           // default: 8080
	RequestTimeout       time.Duration // default: 5s
	ShutdownGracePeriod  time.Duration // default: 10s
	HousekeepingInterval time.Duration // default: 1h
	CookieSecure         bool          // default: true outside dev
	TrustedProxies       []string      // CIDRs allowed to set X-Forwarded-For
}

// LoadConfig reads the environment, after loading a .env file if one is
// present. Variables already set win over the file.
func LoadConfig() Config {
	_ = godotenv.Load()

	env := getEnvOrDefault("ENV", "dev")
	cfg := Config{
		Driver:         strings.ToLower(getEnvOrDefault("AUTH_DRIVER", DriverSQLite)),
		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		DatabaseURL:    os.Getenv("AUTH_DATABASE_URL"),
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "authcore"),
		Algorithm:      getEnvOrDefault("AUTH_ALGORITHM", jwtx.AlgorithmHS256),
		JWTSecret:      os.Getenv("AUTH_JWT_SECRET"),
		SigningKeyKID:  getEnvOrDefault("AUTH_SIGNING_KEY_ID", "authcore-1"),
		SigningKeyFile: getEnvOrDefault("AUTH_SIGNING_KEY_FILE", "signing.pem"),
		AccessTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL:     getEnvDurationOrDefault("AUTH_REFRESH_TOKEN_TTL", jwtx.DefaultRefreshTokenTTL),
		PepperFile:     getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		PasswordHash:   getEnvOrDefault("AUTH_PASSWORD_HASH", cryptox.AlgorithmBcrypt),
		RedisURL:       os.Getenv("AUTH_REDIS_URL"),
		FrontendURL:    getEnvOrDefault("AUTH_FRONTEND_URL", "http://localhost:3000"),
		ProductName:    getEnvOrDefault("AUTH_PRODUCT_NAME", "authcore"),
		Mail: mailer.Config{
			Provider:      getEnvOrDefault("MAIL_PROVIDER", mailer.ProviderLog),
			From:          os.Getenv("MAIL_FROM"),
			SMTPHost:      os.Getenv("SMTP_HOST"),
			SMTPPort:      getEnvOrDefault("SMTP_PORT", "587"),
			SMTPUsername:  os.Getenv("SMTP_USERNAME"),
			SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
			MailgunDomain: os.Getenv("MAILGUN_DOMAIN"),
			MailgunKey:    os.Getenv("MAILGUN_API_KEY"),
			SendGridKey:   os.Getenv("SENDGRID_API_KEY"),
		},
		MailPerSecond:        getEnvFloatOrDefault("MAIL_RATE_PER_SECOND", 5),
		AuditKafkaBrokers:    splitList(os.Getenv("AUDIT_KAFKA_BROKERS")),
		AuditKafkaTopic:      getEnvOrDefault("AUDIT_KAFKA_TOPIC", audit.DefaultKafkaTopic),
		AuditQueueSize:       getEnvIntOrDefault("AUDIT_QUEUE_SIZE", 1024),
		Env:                  env,
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		RequestTimeout:       getEnvDurationOrDefault("AUTH_REQUEST_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		CookieSecure:         getEnvBoolOrDefault("COOKIE_SECURE", env != "dev"),
		TrustedProxies:       splitList(os.Getenv("AUTH_TRUSTED_PROXIES")),
	}
	return cfg
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Driver {
	case DriverSQLite:
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_FILE is required for sqlite"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_DRIVER must be sqlite or postgres, got %q", c.Driver))
	}

	switch c.Algorithm {
	case jwtx.AlgorithmHS256:
		if len(c.JWTSecret) < jwtx.MinHMACSecretLen {
			errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET must be at least %d bytes for HS256", jwtx.MinHMACSecretLen))
		}
	case jwtx.AlgorithmEdDSA:
		if c.SigningKeyFile == "" {
			errs = append(errs, errors.New("AUTH_SIGNING_KEY_FILE is required for EdDSA"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_ALGORITHM must be HS256 or EdDSA, got %q", c.Algorithm))
	}

	switch c.PasswordHash {
	case cryptox.AlgorithmBcrypt, cryptox.AlgorithmArgon2id:
	default:
		errs = append(errs, fmt.Errorf("AUTH_PASSWORD_HASH must be bcrypt or argon2id, got %q", c.PasswordHash))
	}

	if c.Issuer == "" {
		errs = append(errs, errors.New("AUTH_ISSUER must not be empty"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("token TTLs must be positive and the refresh TTL longer than the access TTL"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err))
	}
	if len(c.AuditKafkaBrokers) > 0 && c.AuditKafkaTopic == "" {
		errs = append(errs, errors.New("AUDIT_KAFKA_TOPIC is required when AUDIT_KAFKA_BROKERS is set"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
