package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openkettle/authcore/internal/authcore/domain"
	secretsredis "github.com/openkettle/authcore/internal/authcore/secrets/redis"
	"github.com/openkettle/authcore/internal/authcore/store/drivers/sqlite"
	"github.com/openkettle/authcore/pkg/cryptox"
	"github.com/openkettle/authcore/pkg/idx"
	"github.com/openkettle/authcore/pkg/jwtx"
)

// testEnv wires real drivers against in-process backends: miniredis for the
// secrets store and :memory: sqlite for the durable store.
type testEnv struct {
	Redis    *miniredis.Miniredis
	Secrets  *secretsredis.Store
	Store    *sqlite.Store
	Signer   *jwtx.Signer
	Limiter  *RateLimiter
	Sessions *SessionService
	OTP      *OTPService
	Reset    *ResetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sec := secretsredis.NewFromClient(client)

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	signer, err := jwtx.GenerateSigner()
	require.NoError(t, err)

	limiter := &RateLimiter{Secrets: sec}
	sessions := &SessionService{
		Store:   st,
		Secrets: sec,
		Signer:  signer,
		Issuer:  "authcore-test",
	}
	otp := &OTPService{
		Secrets:  sec,
		Limiter:  limiter,
		Sessions: sessions,
	}
	reset := &ResetService{
		Secrets: sec,
		Store:   st,
	}

	return &testEnv{
		Redis:    mr,
		Secrets:  sec,
		Store:    st,
		Signer:   signer,
		Limiter:  limiter,
		Sessions: sessions,
		OTP:      otp,
		Reset:    reset,
	}
}

func (e *testEnv) seedUser(t *testing.T) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword("original-password")
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        idx.New().String() + "@example.com",
		PasswordHash: hash,
	}
	require.NoError(t, e.Store.Users().CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) liveSessions(t *testing.T, userID string) int64 {
	t.Helper()

	n, err := e.Store.Sessions().CountLiveForUser(context.Background(), userID, time.Now())
	require.NoError(t, err)
	return n
}
