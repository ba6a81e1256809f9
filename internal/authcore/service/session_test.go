package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openkettle/authcore/pkg/cryptox"
)

func TestSession_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)

	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, int64(1), env.liveSessions(t, user.ID))

	claims, err := env.Signer.Verify(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
	require.NotEmpty(t, claims.SID)
}

func TestSession_RotateHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	next, err := env.Sessions.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	claims, err := env.Signer.Verify(next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"refresh"}, claims.AMR)

	// The chain stays at one live session.
	require.Equal(t, int64(1), env.liveSessions(t, user.ID))
}

func TestSession_RotateUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Sessions.Rotate(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestSession_RotateLinksChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	result, err := env.Sessions.RotateChain(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, result.OK)

	// The retired session points at its replacement.
	old, err := env.Store.Sessions().GetSessionByTokenHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedByID)
	require.Equal(t, result.Session.ID, *old.ReplacedByID)
}

func TestSession_ReplayRevokesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	// A second, unrelated chain for the same user.
	_, err = env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	_, err = env.Sessions.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Replaying the already-rotated token burns every session the user
	// has, including the unrelated chain and the fresh rotation.
	_, err = env.Sessions.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrReuseDetected)
	require.Zero(t, env.liveSessions(t, user.ID))
}

func TestSession_ExpiredTokenCountsAsReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	env.Sessions.RefreshTTL = 50 * time.Millisecond

	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = env.Sessions.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrReuseDetected)
}

func TestSession_ConcurrentRotationSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.Sessions.Rotate(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, successes, 1, "at most one rotation may win")
}

func TestSession_RevokeByToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	pair, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)

	require.NoError(t, env.Secrets.Set(ctx, "otp-verified:email:"+user.ID, "1", time.Hour))
	require.NoError(t, env.Secrets.Set(ctx, "otp-verified:phone:"+user.ID, "1", time.Hour))

	require.NoError(t, env.Sessions.RevokeByToken(ctx, pair.RefreshToken))

	require.Zero(t, env.liveSessions(t, user.ID))
	require.False(t, env.Redis.Exists("otp-verified:email:"+user.ID))
	require.False(t, env.Redis.Exists("otp-verified:phone:"+user.ID))

	// Logout is idempotent: unknown and already-revoked tokens succeed.
	require.NoError(t, env.Sessions.RevokeByToken(ctx, pair.RefreshToken))
	require.NoError(t, env.Sessions.RevokeByToken(ctx, "never-issued"))
}

func TestSession_RevokeAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.seedUser(t)
	other := env.seedUser(t)

	_, err := env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)
	_, err = env.Sessions.Create(ctx, user.ID, "otp")
	require.NoError(t, err)
	_, err = env.Sessions.Create(ctx, other.ID, "otp")
	require.NoError(t, err)

	require.NoError(t, env.Sessions.RevokeAll(ctx, user.ID))

	require.Zero(t, env.liveSessions(t, user.ID))
	require.Equal(t, int64(1), env.liveSessions(t, other.ID))
}
