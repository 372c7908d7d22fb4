// Package storetest is a behavioural suite every store.Store driver must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/idx"
)

// Base is the reference time used by the suite.
var Base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run exercises s. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("TokenConsumption", func(t *testing.T) { testTokenConsumption(t, newStore(t)) })
	t.Run("MFAChallenges", func(t *testing.T) { testMFAChallenges(t, newStore(t)) })
	t.Run("AuditLogs", func(t *testing.T) { testAuditLogs(t, newStore(t)) })
}

// SeedUser inserts a verified user with the given email.
func SeedUser(t *testing.T, s store.Store, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:            idx.New().String(),
		Email:         email,
		PasswordHash:  "$2a$04$placeholder",
		Role:          domain.RoleUser,
		EmailVerified: true,
		CreatedAt:     Base,
		UpdatedAt:     Base,
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func strPtr(s string) *string { return &s }

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	users := s.Users()

	u := domain.User{
		ID:                    idx.New().String(),
		Email:                 "a@b.com",
		PasswordHash:          "hash",
		Role:                  domain.RoleUser,
		FirstName:             "Ada",
		EmailVerificationHash: strPtr("verify-hash"),
		CreatedAt:             Base,
		UpdatedAt:             Base,
	}
	require.NoError(t, users.CreateUser(ctx, u))

	err := users.CreateUser(ctx, domain.User{
		ID: idx.New().String(), Email: "a@b.com", PasswordHash: "x", Role: domain.RoleUser,
		CreatedAt: Base, UpdatedAt: Base,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := users.GetUserByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "Ada", got.FirstName)
	require.False(t, got.EmailVerified)
	require.True(t, got.CreatedAt.Equal(Base))

	_, err = users.GetUserByEmail(ctx, "nobody@b.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NotNil(t, got.EmailVerificationHash)
	require.Equal(t, "verify-hash", *got.EmailVerificationHash)

	verified := true
	got, err = users.UpdateUser(ctx, u.ID, domain.UserUpdate{
		EmailVerified:              &verified,
		ClearEmailVerificationHash: true,
	}, Base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.Nil(t, got.EmailVerificationHash)
	require.True(t, got.UpdatedAt.Equal(Base.Add(time.Minute)))

	_, err = users.ConsumeVerificationHash(ctx, "verify-hash", Base.Add(time.Minute))
	require.ErrorIs(t, err, store.ErrNotFound)

	expiry := Base.Add(time.Hour)
	_, err = users.UpdateUser(ctx, u.ID, domain.UserUpdate{
		PasswordResetHash:   strPtr("reset-hash"),
		PasswordResetExpiry: &expiry,
	}, Base)
	require.NoError(t, err)

	got, err = users.GetUserByResetHash(ctx, "reset-hash", Base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotNil(t, got.PasswordResetExpiry)
	require.True(t, got.PasswordResetExpiry.Equal(expiry))

	_, err = users.GetUserByResetHash(ctx, "reset-hash", Base.Add(2*time.Hour))
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := users.ClearExpiredResetTokens(ctx, Base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = users.ClearExpiredResetTokens(ctx, Base.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	secret := "JBSWY3DPEHPK3PXP"
	enabled := true
	login := Base.Add(5 * time.Minute)
	got, err = users.UpdateUser(ctx, u.ID, domain.UserUpdate{
		MFASecret:   &secret,
		MFAEnabled:  &enabled,
		LastLoginAt: &login,
	}, login)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled)
	require.Equal(t, secret, *got.MFASecret)
	require.True(t, got.LastLoginAt.Equal(login))
	require.Nil(t, got.PasswordResetHash)

	_, err = users.UpdateUser(ctx, "missing", domain.UserUpdate{}, Base)
	require.ErrorIs(t, err, store.ErrNotFound)

	count, err := users.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func newSession(userID, access, refresh string) domain.Session {
	ip := "10.0.0.1"
	return domain.Session{
		ID:               idx.New().String(),
		UserID:           userID,
		AccessTokenHash:  access,
		RefreshTokenHash: refresh,
		ExpiresAt:        Base.Add(15 * time.Minute),
		RefreshExpiresAt: Base.Add(7 * 24 * time.Hour),
		IPAddress:        &ip,
		CreatedAt:        Base,
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "s@b.com")
	sessions := s.Sessions()

	s1 := newSession(u.ID, "a1", "r1")
	require.NoError(t, sessions.CreateSession(ctx, s1))
	require.NoError(t, sessions.CreateSession(ctx, newSession(u.ID, "a2", "r2")))

	require.ErrorIs(t, sessions.CreateSession(ctx, newSession(u.ID, "a1", "r9")), store.ErrAlreadyExists)

	got, err := sessions.GetActiveByAccessHash(ctx, "a1", Base)
	require.NoError(t, err)
	require.Equal(t, s1.ID, got.ID)
	require.Equal(t, "10.0.0.1", *got.IPAddress)
	require.Nil(t, got.UserAgent)

	// Access expired but refresh still live.
	_, err = sessions.GetActiveByAccessHash(ctx, "a1", Base.Add(16*time.Minute))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = sessions.GetActiveByRefreshHash(ctx, "r1", Base.Add(16*time.Minute))
	require.NoError(t, err)

	active, err := sessions.CountActive(ctx, Base)
	require.NoError(t, err)
	require.EqualValues(t, 2, active)

	n, err := sessions.DeleteByTokenHash(ctx, "r1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = sessions.DeleteByTokenHash(ctx, "r1")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = sessions.DeleteByRefreshHash(ctx, "a2")
	require.NoError(t, err)
	require.Zero(t, n, "refresh delete must not match access hashes")

	require.NoError(t, sessions.CreateSession(ctx, newSession(u.ID, "a3", "r3")))
	n, err = sessions.DeleteByUser(ctx, u.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, sessions.CreateSession(ctx, newSession(u.ID, "a4", "r4")))
	n, err = sessions.DeleteExpired(ctx, Base.Add(8*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = sessions.DeleteByID(ctx, "gone")
	require.NoError(t, err)
	require.Zero(t, n)

	// Sessions cannot outlive or precede their user.
	require.Error(t, sessions.CreateSession(ctx, newSession("no-such-user", "a5", "r5")))
}

var errBoom = errors.New("boom")

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "tx@b.com")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Sessions().CreateSession(ctx, newSession(u.ID, "ta", "tr")))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.Sessions().GetActiveByRefreshHash(ctx, "tr", Base)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Sessions().CreateSession(ctx, newSession(u.ID, "ta", "tr"))
	})
	require.NoError(t, err)

	_, err = s.Sessions().GetActiveByRefreshHash(ctx, "tr", Base)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.WithTx(ctx, func(store.Tx) error { return nil })
	})
	require.Error(t, err, "nested transactions are rejected")
}

// consumeConcurrently runs consume from several goroutines and returns how
// many succeeded.
func consumeConcurrently(t *testing.T, consume func() error) int {
	t.Helper()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := consume()
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			winners++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return winners
}

func testTokenConsumption(t *testing.T, s store.Store) {
	ctx := context.Background()
	users := s.Users()

	u := domain.User{
		ID:                    idx.New().String(),
		Email:                 "consume@b.com",
		PasswordHash:          "old",
		Role:                  domain.RoleUser,
		EmailVerificationHash: strPtr("verify-once"),
		CreatedAt:             Base,
		UpdatedAt:             Base,
	}
	require.NoError(t, users.CreateUser(ctx, u))

	winners := consumeConcurrently(t, func() error {
		_, err := users.ConsumeVerificationHash(ctx, "verify-once", Base.Add(time.Minute))
		return err
	})
	require.Equal(t, 1, winners, "a verification token is consumed once")

	got, err := users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.Nil(t, got.EmailVerificationHash)
	require.True(t, got.UpdatedAt.Equal(Base.Add(time.Minute)))

	expiry := Base.Add(time.Hour)
	_, err = users.UpdateUser(ctx, u.ID, domain.UserUpdate{
		PasswordResetHash:   strPtr("reset-once"),
		PasswordResetExpiry: &expiry,
	}, Base)
	require.NoError(t, err)

	_, err = users.ConsumeResetHash(ctx, "reset-once", "late", expiry)
	require.ErrorIs(t, err, store.ErrNotFound, "expired reset tokens are not consumed")

	winners = consumeConcurrently(t, func() error {
		_, err := users.ConsumeResetHash(ctx, "reset-once", "new", Base.Add(time.Minute))
		return err
	})
	require.Equal(t, 1, winners, "a reset token is consumed once")

	got, err = users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.PasswordHash)
	require.Nil(t, got.PasswordResetHash)
	require.Nil(t, got.PasswordResetExpiry)
}

func testMFAChallenges(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := SeedUser(t, s, "mfa@b.com")
	repo := s.MFAChallenges()

	c := domain.MFAChallenge{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: "challenge",
		ExpiresAt: Base.Add(5 * time.Minute),
		CreatedAt: Base,

		PasswordRehash: "$argon2id$new",
	}
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetActive(ctx, "challenge", Base)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Zero(t, got.Attempts)
	require.Equal(t, "$argon2id$new", got.PasswordRehash)

	_, err = repo.GetActive(ctx, "challenge", Base.Add(6*time.Minute))
	require.ErrorIs(t, err, store.ErrNotFound)

	for want := 1; want <= 3; want++ {
		n, err := repo.IncrementAttempts(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	_, err = repo.IncrementAttempts(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, c.ID))
	require.ErrorIs(t, repo.Delete(ctx, c.ID), store.ErrNotFound)

	c.ID = idx.New().String()
	c.TokenHash = "other"
	require.NoError(t, repo.Create(ctx, c))
	n, err := repo.DeleteExpired(ctx, Base.Add(10*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	c.ID = idx.New().String()
	c.TokenHash = "third"
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.DeleteByUser(ctx, u.ID))
	_, err = repo.GetActive(ctx, "third", Base)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAuditLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	logs := s.AuditLogs()
	userID := "user-1"

	for i, ev := range []domain.AuditEvent{domain.EventUserCreated, domain.EventUserLogin, domain.EventSessionCreated} {
		require.NoError(t, logs.Append(ctx, domain.AuditEntry{
			ID:        idx.New().String(),
			EventType: ev,
			Details:   map[string]any{"ipAddress": "10.0.0.1", "n": i},
			UserID:    &userID,
			CreatedAt: Base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, logs.Append(ctx, domain.AuditEntry{
		ID:        idx.New().String(),
		EventType: domain.EventLoginFailed,
		CreatedAt: Base.Add(10 * time.Minute),
	}))

	entries, err := logs.ListByUser(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.EventSessionCreated, entries[0].EventType)
	require.Equal(t, domain.EventUserLogin, entries[1].EventType)
	require.Equal(t, "10.0.0.1", entries[0].Details["ipAddress"])

	n, err := logs.CountSince(ctx, Base.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}
