package store

import (
	"context"
	"errors"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface for the durable side of the
// engine (users and session chains). Concrete drivers implement this.
type Store interface {
	Users() Users
	Sessions() Sessions

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Session
	// rotation relies on this so the supersede and the insert land
	// together or not at all.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. Same repos plus Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used when a flow starts from an address rather
	// than a known id.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error
}

type Sessions interface {
	// CreateSession stores a new session record.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns the session whose token fingerprint
	// matches, regardless of revocation or expiry. Rotation needs the
	// dead record too so it can tell a replay from an unknown token.
	GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error)

	// GetNonRevokedSessionByTokenHash is the logout lookup: only a live
	// record can be revoked by presenting its token.
	GetNonRevokedSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error)

	// SupersedeSession revokes the session and points it at its
	// replacement, but only if it is not already revoked. Returns
	// ErrNotFound when the row was already revoked or does not exist;
	// that is the losing side of a concurrent rotation.
	SupersedeSession(ctx context.Context, id, replacedByID string, now time.Time) error

	// RevokeSession marks a single session revoked without a successor.
	RevokeSession(ctx context.Context, id string, now time.Time) error

	// RevokeAllForUser revokes every session belonging to the user.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) error

	// CountLiveForUser returns the number of non-revoked, unexpired
	// sessions for a user.
	CountLiveForUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// DeleteExpiredBefore purges revoked sessions whose expiry is older
	// than cutoff. Non-revoked rows are never physically deleted; the
	// table is otherwise an append-only audit trail. Used by housekeeping.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
