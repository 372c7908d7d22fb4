// Package session persists issued token pairs and enforces single-use
// refresh rotation. Raw tokens never reach the store; rows are keyed by
// their SHA-256 fingerprints.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
)

var ErrSessionInvalid = errors.New("session invalid or expired")

// IssueFunc mints a token pair bound to a session id.
type IssueFunc func(userID, sessionID string) (domain.TokenPair, error)

type Store struct {
	st    store.Store
	clock clockx.Clock
}

func New(st store.Store, clock clockx.Clock) *Store {
	return &Store{st: st, clock: clockx.Or(clock)}
}

func (s *Store) newRow(userID, sessionID string, pair domain.TokenPair, meta domain.RequestMeta) domain.Session {
	row := domain.Session{
		ID:               sessionID,
		UserID:           userID,
		AccessTokenHash:  cryptox.FingerprintToken(pair.AccessToken),
		RefreshTokenHash: cryptox.FingerprintToken(pair.RefreshToken),
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		CreatedAt:        s.clock.Now(),
	}
	if meta.IP != "" {
		ip := meta.IP
		row.IPAddress = &ip
	}
	if meta.UserAgent != "" {
		ua := meta.UserAgent
		row.UserAgent = &ua
	}
	return row
}

// Create issues a pair for userID and records it as a new session.
func (s *Store) Create(ctx context.Context, userID string, issue IssueFunc, meta domain.RequestMeta) (domain.Session, domain.TokenPair, error) {
	id := idx.New().String()
	pair, err := issue(userID, id)
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, err
	}

	row := s.newRow(userID, id, pair, meta)
	if err := s.st.Sessions().CreateSession(ctx, row); err != nil {
		return domain.Session{}, domain.TokenPair{}, fmt.Errorf("create session: %w", err)
	}
	return row, pair, nil
}

func (s *Store) find(ctx context.Context, lookup func(context.Context, string) (domain.Session, error), tok string) (domain.Session, error) {
	if tok == "" {
		return domain.Session{}, ErrSessionInvalid
	}
	row, err := lookup(ctx, cryptox.FingerprintToken(tok))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionInvalid
	}
	return row, err
}

// FindActiveByAccessToken returns the session while its access token is live.
func (s *Store) FindActiveByAccessToken(ctx context.Context, tok string) (domain.Session, error) {
	return s.find(ctx, func(ctx context.Context, hash string) (domain.Session, error) {
		return s.st.Sessions().GetActiveByAccessHash(ctx, hash, s.clock.Now())
	}, tok)
}

// FindActiveByRefreshToken returns the session while its refresh token is live.
func (s *Store) FindActiveByRefreshToken(ctx context.Context, tok string) (domain.Session, error) {
	return s.find(ctx, func(ctx context.Context, hash string) (domain.Session, error) {
		return s.st.Sessions().GetActiveByRefreshHash(ctx, hash, s.clock.Now())
	}, tok)
}

// Invalidate deletes the session holding tok as either its access or
// refresh token. A missing session is not an error.
func (s *Store) Invalidate(ctx context.Context, tok string) (bool, error) {
	if tok == "" {
		return false, nil
	}
	n, err := s.st.Sessions().DeleteByTokenHash(ctx, cryptox.FingerprintToken(tok))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InvalidateAll deletes every session of userID.
func (s *Store) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	return s.st.Sessions().DeleteByUser(ctx, userID)
}

// Rotate swaps the session holding oldRefresh for a freshly issued one in a
// single transaction. The old row is deleted before the new one exists, so
// the two refresh tokens are never valid together, and of two concurrent
// rotations of the same token only one can delete the row.
func (s *Store) Rotate(ctx context.Context, oldRefresh, userID string, issue IssueFunc, meta domain.RequestMeta) (domain.Session, domain.TokenPair, error) {
	hash := cryptox.FingerprintToken(oldRefresh)

	var (
		row  domain.Session
		pair domain.TokenPair
	)
	err := s.st.WithTx(ctx, func(tx store.Tx) error {
		old, err := tx.Sessions().GetActiveByRefreshHash(ctx, hash, s.clock.Now())
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionInvalid
		}
		if err != nil {
			return err
		}
		if old.UserID != userID {
			return ErrSessionInvalid
		}

		n, err := tx.Sessions().DeleteByRefreshHash(ctx, hash)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrSessionInvalid
		}

		id := idx.New().String()
		pair, err = issue(userID, id)
		if err != nil {
			return err
		}
		row = s.newRow(userID, id, pair, meta)
		return tx.Sessions().CreateSession(ctx, row)
	})
	if err != nil {
		return domain.Session{}, domain.TokenPair{}, err
	}
	return row, pair, nil
}
