package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash,
	expires_at, refresh_expires_at, ip_address, user_agent, created_at`

type sessionsRepo struct {
	q *queries
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s      domain.Session
		ip, ua sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash,
		&s.ExpiresAt, &s.RefreshExpiresAt, &ip, &ua, &s.CreatedAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.IPAddress = mapNullStringPtr(ip)
	s.UserAgent = mapNullStringPtr(ua)
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.RefreshExpiresAt = s.RefreshExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash,
		s.ExpiresAt.UTC(), s.RefreshExpiresAt.UTC(),
		mapOptionalString(s.IPAddress), mapOptionalString(s.UserAgent), s.CreatedAt.UTC(),
	)
	return r.q.d.mapWriteErr(err)
}

func (r *sessionsRepo) GetActiveByAccessHash(ctx context.Context, hash string, now time.Time) (domain.Session, error) {
	return scanSession(r.q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE access_token_hash = ? AND expires_at > ?`, hash, now.UTC()))
}

func (r *sessionsRepo) GetActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (domain.Session, error) {
	return scanSession(r.q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = ? AND refresh_expires_at > ?`, hash, now.UTC()))
}

func (r *sessionsRepo) DeleteByID(ctx context.Context, id string) (int64, error) {
	return r.q.execCount(ctx, `DELETE FROM sessions WHERE id = ?`, id)
}

func (r *sessionsRepo) DeleteByRefreshHash(ctx context.Context, hash string) (int64, error) {
	return r.q.execCount(ctx, `DELETE FROM sessions WHERE refresh_token_hash = ?`, hash)
}

func (r *sessionsRepo) DeleteByTokenHash(ctx context.Context, hash string) (int64, error) {
	return r.q.execCount(ctx,
		`DELETE FROM sessions WHERE access_token_hash = ? OR refresh_token_hash = ?`, hash, hash)
}

func (r *sessionsRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return r.q.execCount(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
}

// DeleteExpired removes sessions whose refresh token can no longer be used.
func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.q.execCount(ctx, `DELETE FROM sessions WHERE refresh_expires_at <= ?`, now.UTC())
}

func (r *sessionsRepo) CountActive(ctx context.Context, now time.Time) (int64, error) {
	return r.q.count(ctx, `SELECT COUNT(*) FROM sessions WHERE refresh_expires_at > ?`, now.UTC())
}
