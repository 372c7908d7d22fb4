package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/authcore/internal/auth/app"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
)

// startContainer runs req and returns host:port for exposed.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, exposed string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(exposed))
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func startPostgres(t *testing.T) string {
	t.Helper()
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "auth",
			"POSTGRES_PASSWORD": "auth",
			"POSTGRES_DB":       "auth",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")
	return fmt.Sprintf("postgres://auth:auth@%s/auth?sslmode=disable", addr)
}

func startRedis(t *testing.T) string {
	t.Helper()
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}, "6379")
	return fmt.Sprintf("redis://%s/0", addr)
}

// TestPostgresAndRedis runs the login flow against the production backends:
// Postgres for state and Redis for rate-limit counters shared between two
// instances.
func TestPostgresAndRedis(t *testing.T) {
	pgURL := startPostgres(t)
	redisURL := startRedis(t)
	ctx := t.Context()

	cfg := testConfig(t)
	cfg.Driver = app.DriverPostgres
	cfg.DatabaseURL = pgURL
	cfg.RedisURL = redisURL

	a := startService(t, cfg)
	b := startService(t, cfg)
	b.clock.Set(a.clock.Now())

	const email = "pg@example.com"
	a.registerVerified(t, email)

	// Instance b reads the account instance a created.
	session := b.login(t, email, testPassword)
	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, email, me.Email)

	// Failed logins on either instance count against the same window.
	for i := range 4 {
		e := a
		if i%2 == 1 {
			e = b
		}
		_, err := e.client.Login(ctx, email, "Wr0ngPassword!")
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	}
	_, err = a.client.Login(ctx, email, testPassword)
	requireAPIError(t, err, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimited)

	health, err := b.client.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "connected", health.Database)
}
