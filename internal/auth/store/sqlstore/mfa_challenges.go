package sqlstore

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type mfaChallengesRepo struct {
	q *queries
}

func (r *mfaChallengesRepo) Create(ctx context.Context, c domain.MFAChallenge) error {
	_, err := r.q.exec(ctx, `INSERT INTO mfa_challenges
		(id, user_id, token_hash, attempts, password_rehash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.TokenHash, c.Attempts, c.PasswordRehash, c.ExpiresAt.UTC(), c.CreatedAt.UTC())
	return r.q.d.mapWriteErr(err)
}

func (r *mfaChallengesRepo) GetActive(ctx context.Context, hash string, now time.Time) (domain.MFAChallenge, error) {
	var c domain.MFAChallenge
	err := r.q.queryRow(ctx, `SELECT id, user_id, token_hash, attempts, password_rehash, expires_at, created_at
		FROM mfa_challenges WHERE token_hash = ? AND expires_at > ?`, hash, now.UTC()).
		Scan(&c.ID, &c.UserID, &c.TokenHash, &c.Attempts, &c.PasswordRehash, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return domain.MFAChallenge{}, mapNotFound(err)
	}
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *mfaChallengesRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.q.queryRow(ctx,
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id).
		Scan(&attempts)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *mfaChallengesRepo) Delete(ctx context.Context, id string) error {
	n, err := r.q.execCount(ctx, `DELETE FROM mfa_challenges WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *mfaChallengesRepo) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.q.exec(ctx, `DELETE FROM mfa_challenges WHERE user_id = ?`, userID)
	return err
}

func (r *mfaChallengesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.q.execCount(ctx, `DELETE FROM mfa_challenges WHERE expires_at <= ?`, now.UTC())
}
