package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openkettle/authcore/internal/authcore/domain"
	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/cryptox"
	"github.com/openkettle/authcore/pkg/idx"
	"github.com/openkettle/authcore/pkg/jwtx"
	"github.com/openkettle/authcore/pkg/slogx"
)

const (
	// DefaultRefreshTTL is the lifetime of a refresh token. Each rotation
	// issues a fresh token with a full TTL, so an active client never ages
	// out.
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidRefresh = errors.New("invalid_refresh_token")

	// ErrReuseDetected means a revoked or expired token was presented.
	// By the time this is returned the whole chain is already revoked.
	ErrReuseDetected = errors.New("refresh_token_reuse")
)

// SessionService owns the refresh-token rotation chains. Raw tokens are
// random strings handed to the client once; the store only ever sees their
// SHA-256 fingerprints.
type SessionService struct {
	Store   store.Store
	Secrets secrets.Store
	Signer  *jwtx.Signer

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (s *SessionService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *SessionService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return DefaultRefreshTTL
	}
	return s.RefreshTTL
}

// Create starts a new session chain for the user and mints the first token
// pair. amr names how the user authenticated (e.g. "otp").
func (s *SessionService) Create(ctx context.Context, userID, amr string) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	now := time.Now()

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	sess := domain.Session{
		ID:        idx.New().String(),
		UserID:    user.ID,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: now.Add(s.refreshTTL()),
	}
	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	l.Info("session opened",
		slog.String("user_id", user.ID),
		slog.String("session_id", sess.ID))

	return s.mintPair(user.ID, sess.ID, raw, []string{amr}, now)
}

// Rotate exchanges a refresh token for a new pair, retiring the presented
// token. Presenting an unknown token fails with ErrInvalidRefresh.
// Presenting a revoked or expired token is treated as replay: every session
// belonging to that user is revoked and ErrReuseDetected is returned.
func (s *SessionService) Rotate(ctx context.Context, rawToken string) (*domain.TokenPair, error) {
	result, err := s.RotateChain(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Reason == domain.RotationNotFound {
			return nil, ErrInvalidRefresh
		}
		return nil, ErrReuseDetected
	}
	return s.mintPair(result.UserID, result.Session.ID, result.RawToken, []string{"refresh"}, time.Now())
}

// RotateChain is the storage half of Rotate. The supersede and the insert
// of the replacement run in one transaction; the conditional revoke inside
// SupersedeSession guarantees that of two concurrent rotations on the same
// token at most one commits, and the loser triggers chain revocation just
// like any other replay.
func (s *SessionService) RotateChain(ctx context.Context, rawToken string) (domain.RotationResult, error) {
	l := slogx.FromContext(ctx)
	now := time.Now()
	hash := cryptox.FingerprintToken(rawToken)

	current, err := s.Store.Sessions().GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RotationResult{Reason: domain.RotationNotFound}, nil
		}
		return domain.RotationResult{}, fmt.Errorf("load session: %w", err)
	}

	if !current.Live(now) {
		return s.revokeChain(ctx, current.UserID, current.ID, now)
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.RotationResult{}, fmt.Errorf("generate refresh token: %w", err)
	}

	next := domain.Session{
		ID:        idx.New().String(),
		UserID:    current.UserID,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: now.Add(s.refreshTTL()),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Sessions().SupersedeSession(ctx, current.ID, next.ID, now); err != nil {
			return err
		}
		return tx.Sessions().CreateSession(ctx, next)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a concurrent rotation on the same token.
			return s.revokeChain(ctx, current.UserID, current.ID, now)
		}
		return domain.RotationResult{}, fmt.Errorf("rotate session: %w", err)
	}

	l.Info("session rotated",
		slog.String("user_id", current.UserID),
		slog.String("old_session_id", current.ID),
		slog.String("new_session_id", next.ID))

	return domain.RotationResult{
		OK:       true,
		UserID:   current.UserID,
		RawToken: raw,
		Session:  next,
	}, nil
}

func (s *SessionService) revokeChain(ctx context.Context, userID, sessionID string, now time.Time) (domain.RotationResult, error) {
	l := slogx.FromContext(ctx)

	if err := s.Store.Sessions().RevokeAllForUser(ctx, userID, now); err != nil {
		return domain.RotationResult{}, fmt.Errorf("revoke sessions: %w", err)
	}

	l.Warn("refresh token replay detected, all sessions revoked",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID))

	return domain.RotationResult{
		Reason: domain.RotationReplayed,
		UserID: userID,
	}, nil
}

// RevokeByToken ends the session the token belongs to and sweeps the user's
// transient verification flags. Unknown and already-revoked tokens succeed
// silently so logout stays idempotent.
func (s *SessionService) RevokeByToken(ctx context.Context, rawToken string) error {
	l := slogx.FromContext(ctx)
	now := time.Now()

	sess, err := s.Store.Sessions().GetNonRevokedSessionByTokenHash(ctx, cryptox.FingerprintToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	if err := s.Store.Sessions().RevokeSession(ctx, sess.ID, now); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}

	if err := s.cleanupVerifiedFlags(ctx, sess.UserID); err != nil {
		return err
	}

	l.Info("session revoked",
		slog.String("user_id", sess.UserID),
		slog.String("session_id", sess.ID))
	return nil
}

// RevokeAll ends every session the user has, across all chains and devices.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.Store.Sessions().RevokeAllForUser(ctx, userID, time.Now()); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	slogx.FromContext(ctx).Info("all sessions revoked", slog.String("user_id", userID))
	return nil
}

func (s *SessionService) cleanupVerifiedFlags(ctx context.Context, userID string) error {
	err := s.Secrets.Delete(ctx,
		otpVerifiedKey(domain.ChannelEmail, userID),
		otpVerifiedKey(domain.ChannelPhone, userID),
	)
	if err != nil {
		return fmt.Errorf("cleanup verification flags: %w", err)
	}
	return nil
}

func (s *SessionService) mintPair(userID, sessionID, rawRefresh string, amr []string, now time.Time) (*domain.TokenPair, error) {
	claims := jwtx.NewAccessClaims(userID, sessionID, amr, s.accessTTL(), s.Issuer, now)
	access, err := s.Signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL().Seconds()),
		RefreshToken: rawRefresh,
	}, nil
}
