package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/store"
)

type usersRepo struct {
	db dbtx
}

const createUser = `
INSERT INTO users (id, email, phone, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, createUser,
		u.ID, u.Email, mapOptionalString(u.Phone), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

const getUserByID = `
SELECT id, email, phone, password_hash, created_at, updated_at
FROM users
WHERE id = ?`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, getUserByID, id))
}

const getUserByEmail = `
SELECT id, email, phone, password_hash, created_at, updated_at
FROM users
WHERE email = ?`

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, getUserByEmail, email))
}

const updatePasswordHash = `
UPDATE users
SET password_hash = ?, updated_at = ?
WHERE id = ?`

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	res, err := r.db.ExecContext(ctx, updatePasswordHash, newHash, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) scanUser(row *sql.Row) (domain.User, error) {
	var (
		u     domain.User
		phone sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &phone, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Phone = mapNullStringPtr(phone)
	return u, nil
}
