package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/cryptox"
	"github.com/openkettle/authcore/pkg/slogx"
)

const (
	// DefaultResetTTL is how long a password reset token stays valid.
	DefaultResetTTL = 10 * time.Minute
)

var ErrInvalidResetToken = errors.New("invalid_or_expired_reset_token")

// ResetService manages single-use password reset tokens. One token per user
// at a time: creating a new one silently replaces any outstanding token.
type ResetService struct {
	Secrets secrets.Store
	Store   store.Store

	TokenTTL time.Duration
}

func (s *ResetService) tokenTTL() time.Duration {
	if s.TokenTTL <= 0 {
		return DefaultResetTTL
	}
	return s.TokenTTL
}

// Create issues a reset token for the user. The raw token is returned for
// the delivery layer; only its presence in the secrets store makes it valid.
func (s *ResetService) Create(ctx context.Context, userID string) (string, error) {
	l := slogx.FromContext(ctx)

	if _, err := s.Store.Users().GetUserByID(ctx, userID); err != nil {
		return "", err
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	if err := s.Secrets.Set(ctx, resetKey(userID), token, s.tokenTTL()); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	l.Info("password reset token created", slog.String("user_id", userID))
	return token, nil
}

// Verify consumes the token on a match. A mismatch leaves the stored token
// in place so the legitimate holder can still use it; attempts are bounded
// by the token's TTL.
func (s *ResetService) Verify(ctx context.Context, userID, token string) error {
	stored, err := s.Secrets.Get(ctx, resetKey(userID))
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("load reset token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		slogx.FromContext(ctx).Info("reset token verify failed", slog.String("user_id", userID))
		return ErrInvalidResetToken
	}

	if err := s.Secrets.Delete(ctx, resetKey(userID)); err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	return nil
}

// Complete verifies the token, installs the new password hash and revokes
// every session the user has. A stolen refresh token must not survive a
// password reset.
func (s *ResetService) Complete(ctx context.Context, userID, token, newPassword string) error {
	l := slogx.FromContext(ctx)

	if err := s.Verify(ctx, userID, token); err != nil {
		return err
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
			return err
		}
		return tx.Sessions().RevokeAllForUser(ctx, userID, now)
	})
	if err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}

	l.Info("password reset completed", slog.String("user_id", userID))
	return nil
}
