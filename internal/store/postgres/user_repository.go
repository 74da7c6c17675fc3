package postgres

import (
	"context"
	"time"

	"malricpharma/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

type userRepository struct {
	db querier
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, name, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		u.Email, u.PasswordHash, u.Name, u.IsAdmin, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	return mapErr(err)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, name, is_admin, created_at, updated_at
		FROM users WHERE email = $1`, email))
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	return scanUser(r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, name, is_admin, created_at, updated_at
		FROM users WHERE id = $1`, id))
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

type refreshTokenRepository struct {
	db querier
}

func (r *refreshTokenRepository) Create(ctx context.Context, t *user.RefreshToken) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.Token, t.UserID, t.ExpiresAt, t.Revoked, t.CreatedAt).Scan(&t.ID)
	return mapErr(err)
}

func (r *refreshTokenRepository) FindByToken(ctx context.Context, token string) (*user.RefreshToken, error) {
	var t user.RefreshToken
	err := r.db.QueryRow(ctx, `
		SELECT id, token, user_id, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.Token, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *refreshTokenRepository) Revoke(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`, id)
	return err
}

func (r *refreshTokenRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	return err
}

func (r *refreshTokenRepository) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
