package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/store"
)

type sessionsRepo struct {
	db dbtx
}

const createSession = `
INSERT INTO sessions (id, user_id, token_hash, expires_at, revoked, replaced_by_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, createSession,
		s.ID, s.UserID, s.TokenHash, s.ExpiresAt, s.Revoked,
		mapOptionalString(s.ReplacedByID), s.CreatedAt, s.UpdatedAt)
	return err
}

const getSessionByTokenHash = `
SELECT id, user_id, token_hash, expires_at, revoked, replaced_by_id, created_at, updated_at
FROM sessions
WHERE token_hash = ?`

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, getSessionByTokenHash, hash))
}

const getNonRevokedSessionByTokenHash = `
SELECT id, user_id, token_hash, expires_at, revoked, replaced_by_id, created_at, updated_at
FROM sessions
WHERE token_hash = ? AND revoked = 0`

func (r *sessionsRepo) GetNonRevokedSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx, getNonRevokedSessionByTokenHash, hash))
}

// The revoked = 0 guard is the serialization point for rotation. Of two
// requests racing on the same token, exactly one update matches a row.
const supersedeSession = `
UPDATE sessions
SET revoked = 1, replaced_by_id = ?, updated_at = ?
WHERE id = ? AND revoked = 0`

func (r *sessionsRepo) SupersedeSession(ctx context.Context, id, replacedByID string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, supersedeSession, replacedByID, now.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const revokeSession = `
UPDATE sessions
SET revoked = 1, updated_at = ?
WHERE id = ? AND revoked = 0`

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, revokeSession, now.UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const revokeAllForUser = `
UPDATE sessions
SET revoked = 1, updated_at = ?
WHERE user_id = ? AND revoked = 0`

func (r *sessionsRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, revokeAllForUser, now.UTC(), userID)
	return err
}

const countLiveForUser = `
SELECT COUNT(*)
FROM sessions
WHERE user_id = ? AND revoked = 0 AND expires_at > ?`

func (r *sessionsRepo) CountLiveForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, countLiveForUser, userID, now.UTC()).Scan(&n)
	return n, err
}

// Live rows are never physically deleted; the sessions table is an audit
// trail. Only rows that are both revoked and long expired are pruned.
const deleteExpiredBefore = `
DELETE FROM sessions
WHERE revoked = 1 AND expires_at < ?`

func (r *sessionsRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredBefore, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) scanSession(row *sql.Row) (domain.Session, error) {
	var (
		s          domain.Session
		replacedBy sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.Revoked,
		&replacedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.ReplacedByID = mapNullStringPtr(replacedBy)
	return s, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
