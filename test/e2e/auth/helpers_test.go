package auth_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/app"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/store/storetest"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * Each test gets a fully wired Application behind an httptest server, a fake
 * clock and a mail sender that records every delivered message.
 */

const (
	testPassword = "Passw0rd!"
	newPassword  = "N3wPassw0rd!"
)

// inbox is a mail sender that keeps every message it is asked to deliver.
type inbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (i *inbox) Name() string { return "inbox" }

func (i *inbox) Send(_ context.Context, to, subject, html string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, mailer.Message{To: to, Subject: subject, HTML: html})
	return nil
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

// waitForToken blocks until a message whose subject contains subject reaches
// to, then returns the token embedded in its link.
func (i *inbox) waitForToken(t *testing.T, to, subject string) string {
	t.Helper()

	var token string
	require.Eventually(t, func() bool {
		i.mu.Lock()
		defer i.mu.Unlock()
		for n := len(i.msgs) - 1; n >= 0; n-- {
			m := i.msgs[n]
			if m.To != to || !strings.Contains(m.Subject, subject) {
				continue
			}
			if match := tokenParam.FindStringSubmatch(m.HTML); len(match) == 2 {
				token = match[1]
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "no %q mail for %s", subject, to)
	return token
}

func (i *inbox) count(to string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, m := range i.msgs {
		if m.To == to {
			n++
		}
	}
	return n
}

type env struct {
	client *authsdk.SDKClient
	clock  *clockx.Fake
	inbox  *inbox
	app    *app.Application
}

// testConfig returns a config for an EdDSA-signing service on a throwaway
// SQLite file.
func testConfig(t *testing.T) app.Config {
	t.Helper()
	dir := t.TempDir()

	return app.Config{
		Driver:               app.DriverSQLite,
		DatabaseFile:         filepath.Join(dir, "auth.db"),
		Issuer:               "authcore-e2e",
		Algorithm:            jwtx.AlgorithmEdDSA,
		SigningKeyKID:        "e2e-key-1",
		SigningKeyFile:       filepath.Join(dir, "signing.pem"),
		AccessTTL:            jwtx.DefaultAccessTokenTTL,
		RefreshTTL:           jwtx.DefaultRefreshTokenTTL,
		PepperFile:           filepath.Join(dir, "pepper"),
		PasswordHash:         cryptox.AlgorithmArgon2id,
		FrontendURL:          "https://app.test",
		ProductName:          "AuthCore",
		Mail:                 mailer.Config{Provider: mailer.ProviderLog},
		MailPerSecond:        100,
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "text",
		Port:                 8080,
		RequestTimeout:       10 * time.Second,
		ShutdownGracePeriod:  5 * time.Second,
		HousekeepingInterval: time.Hour,
	}
}

// relaxLimits raises the per-IP limits; every request in these tests comes
// from 127.0.0.1.
func relaxLimits(t *testing.T) {
	t.Helper()
	for _, name := range []string{"LOGIN", "GENERAL", "USER"} {
		t.Setenv("RATELIMIT_"+name+"_REQUESTS", "1000")
	}
}

// startService wires the application from cfg and serves it over HTTP.
func startService(t *testing.T, cfg app.Config) *env {
	t.Helper()

	e := &env{clock: clockx.NewFake(storetest.Base), inbox: &inbox{}}

	application, err := app.New(t.Context(), cfg, app.WithClock(e.clock), app.WithMailSender(e.inbox))
	require.NoError(t, err)
	application.Start()
	t.Cleanup(func() {
		if err := application.Shutdown(); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)

	e.app = application
	e.client = authsdk.NewSDKClient(srv.URL)
	e.client.Now = e.clock.Now
	return e
}

func setup(t *testing.T) *env {
	t.Helper()
	relaxLimits(t)
	return startService(t, testConfig(t))
}

// registerVerified registers email and redeems the verification mail.
func (e *env) registerVerified(t *testing.T, email string) *authsdk.User {
	t.Helper()
	ctx := t.Context()

	user, err := e.client.Register(ctx, authsdk.RegisterRequest{Email: email, Password: testPassword})
	require.NoError(t, err)
	require.False(t, user.EmailVerified)

	token := e.inbox.waitForToken(t, email, "Verify")
	verified, err := e.client.VerifyEmail(ctx, token)
	require.NoError(t, err)
	require.True(t, verified.EmailVerified)
	return verified
}

func (e *env) login(t *testing.T, email, password string) *authsdk.Session {
	t.Helper()
	session, err := e.client.Login(t.Context(), email, password)
	require.NoError(t, err, "login should succeed")
	require.NotNil(t, session)
	return session
}

// requireAPIError asserts err is an API error with the given status and code.
func requireAPIError(t *testing.T, err error, status int, code string) *authsdk.APIError {
	t.Helper()
	require.Error(t, err)

	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected *authsdk.APIError, got %T: %v", err, err)
	require.Equal(t, status, apiErr.StatusCode, apiErr.Error())
	require.Equal(t, code, apiErr.Code)
	return apiErr
}
