package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories so a transaction-scoped Store
// offers exactly the same surface as the root one.
type Store interface {
	Users() Users
	Sessions() Sessions
	MFAChallenges() MFAChallenges
	AuditLogs() AuditLogs

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail expects an already normalised address.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByResetHash only matches while the reset expiry is after now.
	GetUserByResetHash(ctx context.Context, hash string, now time.Time) (domain.User, error)

	// ConsumeVerificationHash marks the account holding hash as verified and
	// clears the hash in a single statement. Of two concurrent callers only
	// one gets the user; the other gets ErrNotFound.
	ConsumeVerificationHash(ctx context.Context, hash string, now time.Time) (domain.User, error)

	// ConsumeResetHash stores passwordHash on the account holding an
	// unexpired reset hash and clears the reset fields in a single
	// statement. ErrNotFound when the hash is unknown, expired or already
	// used.
	ConsumeResetHash(ctx context.Context, hash, passwordHash string, now time.Time) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateUser applies the non-nil fields of upd, bumps updated_at and
	// returns the stored row.
	UpdateUser(ctx context.Context, id string, upd domain.UserUpdate, now time.Time) (domain.User, error)

	CountUsers(ctx context.Context) (int64, error)

	// ClearExpiredResetTokens nulls reset tokens whose expiry has passed.
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	// GetActiveByAccessHash matches while expires_at is after now.
	GetActiveByAccessHash(ctx context.Context, hash string, now time.Time) (domain.Session, error)

	// GetActiveByRefreshHash matches while refresh_expires_at is after now.
	GetActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (domain.Session, error)

	// Delete* report how many rows went away; zero is not an error.
	DeleteByID(ctx context.Context, id string) (int64, error)
	DeleteByRefreshHash(ctx context.Context, hash string) (int64, error)
	DeleteByTokenHash(ctx context.Context, hash string) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	CountActive(ctx context.Context, now time.Time) (int64, error)
}

type MFAChallenges interface {
	Create(ctx context.Context, c domain.MFAChallenge) error

	// GetActive returns an unexpired challenge by token hash.
	GetActive(ctx context.Context, hash string, now time.Time) (domain.MFAChallenge, error)

	// IncrementAttempts bumps the failure counter and returns the new count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuditLogs interface {
	Append(ctx context.Context, e domain.AuditEntry) error
	CountSince(ctx context.Context, since time.Time) (int64, error)

	// ListByUser returns the newest entries first.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error)
}
