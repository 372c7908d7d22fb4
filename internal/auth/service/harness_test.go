package service_test

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/credential"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/mailer"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/internal/auth/store/storetest"
	"github.com/aussiebroadwan/authcore/internal/auth/token"
	"github.com/aussiebroadwan/authcore/internal/auth/totp"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
)

const (
	testEmail    = "a@b.com"
	testPassword = "Passw0rd!"
	testPepper   = "pepper"
)

var meta = domain.RequestMeta{IP: "10.0.0.1", UserAgent: "test-agent"}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *recordingAudit) Log(_ context.Context, event domain.AuditEvent, _ map[string]any, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) count(event domain.AuditEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type recordingMail struct {
	mu     sync.Mutex
	msgs   []mailer.Message
	reject bool
}

func (r *recordingMail) Enqueue(m mailer.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return false
	}
	r.msgs = append(r.msgs, m)
	return true
}

var tokenParam = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

// lastToken pulls the token out of the newest email sent to addr.
func (r *recordingMail) lastToken(t *testing.T, addr string) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].To == addr {
			m := tokenParam.FindStringSubmatch(r.msgs[i].HTML)
			require.Len(t, m, 2, "no token in email")
			return m[1]
		}
	}
	t.Fatalf("no email sent to %s", addr)
	return ""
}

func (r *recordingMail) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type harness struct {
	svc    *service.AuthService
	st     store.Store
	clock  *clockx.Fake
	totp   *totp.Manager
	audit  *recordingAudit
	mail   *recordingMail
	hasher cryptox.PasswordHasher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	clock := clockx.NewFake(storetest.Base)
	signer, err := jwtx.NewSignerHS256("test", []byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	hasher := cryptox.PasswordHasher{Algorithm: cryptox.AlgorithmBcrypt, BcryptCost: 4, Pepper: testPepper}
	h := &harness{
		st:     st,
		clock:  clock,
		totp:   totp.NewManager("AuthCore", clock),
		audit:  &recordingAudit{},
		mail:   &recordingMail{},
		hasher: hasher,
	}
	h.svc = service.New(service.Deps{
		Store:       st,
		Credentials: credential.New(hasher),
		TOTP:        h.totp,
		Tokens:      token.NewIssuer(signer, token.Config{Issuer: "authcore"}, clock),
		Sessions:    session.New(st, clock),
		Audit:       h.audit,
		Limiter:     ratelimit.NewMemory(clock),
		Mail:        h.mail,
		Templates:   mailer.NewTemplates("https://app.test", "AuthCore"),
		Clock:       clock,
	}, service.Config{})
	return h
}

// verifiedUser registers and verifies testEmail.
func (h *harness) verifiedUser(t *testing.T) domain.PublicUser {
	t.Helper()
	ctx := context.Background()

	_, err := h.svc.Register(ctx, service.RegisterInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	u, err := h.svc.VerifyEmail(ctx, h.mail.lastToken(t, testEmail), meta)
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T) service.LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), service.LoginInput{Email: testEmail, Password: testPassword}, meta)
	require.NoError(t, err)
	return res
}

// enableMFA turns on MFA for userID and returns its secret.
func (h *harness) enableMFA(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()

	enr, err := h.svc.SetupMFA(ctx, userID, meta)
	require.NoError(t, err)
	require.NoError(t, h.svc.EnableMFA(ctx, userID, h.code(t, enr.Secret), meta))
	return enr.Secret
}

func (h *harness) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := h.totp.GenerateCode(secret, h.clock.Now())
	require.NoError(t, err)
	return c
}

func requireKind(t *testing.T, err error, kind service.Kind) *service.Error {
	t.Helper()
	require.Error(t, err)
	e := service.AsError(err)
	require.Equal(t, kind, e.Kind, "got %v", err)
	return e
}
