package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

const userColumns = `id, email, password_hash, role, first_name, last_name,
	email_verified, email_verification_hash, mfa_secret, mfa_enabled,
	password_reset_hash, password_reset_expiry, created_at, updated_at, last_login_at`

type usersRepo struct {
	q *queries
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u           domain.User
		verifyHash  sql.NullString
		mfaSecret   sql.NullString
		resetHash   sql.NullString
		resetExpiry sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName,
		&u.EmailVerified, &verifyHash, &mfaSecret, &u.MFAEnabled,
		&resetHash, &resetExpiry, &u.CreatedAt, &u.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.EmailVerificationHash = mapNullStringPtr(verifyHash)
	u.MFASecret = mapNullStringPtr(mfaSecret)
	u.PasswordResetHash = mapNullStringPtr(resetHash)
	u.PasswordResetExpiry = mapNullTimePtr(resetExpiry)
	u.LastLoginAt = mapNullTimePtr(lastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) GetUserByResetHash(ctx context.Context, hash string, now time.Time) (domain.User, error) {
	return scanUser(r.q.queryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE password_reset_hash = ? AND password_reset_expiry > ?`, hash, now.UTC()))
}

func (r *usersRepo) ConsumeVerificationHash(ctx context.Context, hash string, now time.Time) (domain.User, error) {
	var id string
	err := r.q.queryRow(ctx, `UPDATE users
		SET email_verified = ?, email_verification_hash = NULL, updated_at = ?
		WHERE email_verification_hash = ?
		RETURNING id`, true, now.UTC(), hash).Scan(&id)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *usersRepo) ConsumeResetHash(ctx context.Context, hash, passwordHash string, now time.Time) (domain.User, error) {
	var id string
	err := r.q.queryRow(ctx, `UPDATE users
		SET password_hash = ?, password_reset_hash = NULL, password_reset_expiry = NULL, updated_at = ?
		WHERE password_reset_hash = ? AND password_reset_expiry > ?
		RETURNING id`, passwordHash, now.UTC(), hash, now.UTC()).Scan(&id)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName,
		u.EmailVerified, mapOptionalString(u.EmailVerificationHash),
		mapOptionalString(u.MFASecret), u.MFAEnabled,
		mapOptionalString(u.PasswordResetHash), mapOptionalTime(u.PasswordResetExpiry),
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(), mapOptionalTime(u.LastLoginAt),
	)
	return r.q.d.mapWriteErr(err)
}

func (r *usersRepo) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate, now time.Time) (domain.User, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.EmailVerified != nil {
		set("email_verified", *upd.EmailVerified)
	}
	switch {
	case upd.ClearEmailVerificationHash:
		set("email_verification_hash", nil)
	case upd.EmailVerificationHash != nil:
		set("email_verification_hash", *upd.EmailVerificationHash)
	}
	if upd.MFASecret != nil {
		set("mfa_secret", *upd.MFASecret)
	}
	if upd.MFAEnabled != nil {
		set("mfa_enabled", *upd.MFAEnabled)
	}
	switch {
	case upd.ClearPasswordReset:
		set("password_reset_hash", nil)
		set("password_reset_expiry", nil)
	case upd.PasswordResetHash != nil:
		set("password_reset_hash", *upd.PasswordResetHash)
		set("password_reset_expiry", mapOptionalTime(upd.PasswordResetExpiry))
	}
	if upd.LastLoginAt != nil {
		set("last_login_at", upd.LastLoginAt.UTC())
	}
	set("updated_at", now.UTC())

	args = append(args, id)
	n, err := r.q.execCount(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return domain.User{}, r.q.d.mapWriteErr(err)
	}
	if n == 0 {
		return domain.User{}, store.ErrNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *usersRepo) CountUsers(ctx context.Context) (int64, error) {
	return r.q.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (r *usersRepo) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.q.execCount(ctx, `UPDATE users
		SET password_reset_hash = NULL, password_reset_expiry = NULL
		WHERE password_reset_expiry IS NOT NULL AND password_reset_expiry <= ?`, now.UTC())
}
