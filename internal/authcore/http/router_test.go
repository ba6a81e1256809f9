package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openkettle/authcore/internal/authcore/domain"
	secretsredis "github.com/openkettle/authcore/internal/authcore/secrets/redis"
	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/internal/authcore/store/drivers/sqlite"
	"github.com/openkettle/authcore/pkg/cryptox"
	"github.com/openkettle/authcore/pkg/idx"
	"github.com/openkettle/authcore/pkg/jwtx"
)

type env struct {
	Router   *Router
	Redis    *miniredis.Miniredis
	Store    *sqlite.Store
	Signer   *jwtx.Signer
	Sessions *service.SessionService

	// Delivered collects (identifier, value) pairs handed to the
	// delivery hook, letting tests read issued codes and tokens.
	Delivered map[string]string

	ipSeq int
}

func newEnv(t *testing.T) *env {
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

	limiter := &service.RateLimiter{Secrets: sec}
	sessions := &service.SessionService{
		Store:   st,
		Secrets: sec,
		Signer:  signer,
		Issuer:  "authcore-test",
	}
	otp := &service.OTPService{
		Secrets:  sec,
		Limiter:  limiter,
		Sessions: sessions,
	}
	reset := &service.ResetService{
		Secrets: sec,
		Store:   st,
	}

	e := &env{
		Redis:     mr,
		Store:     st,
		Signer:    signer,
		Sessions:  sessions,
		Delivered: make(map[string]string),
	}

	router := NewRouter("authcore-test", "test", st, sec, slog.Default())
	router.OTPService = otp
	router.ResetService = reset
	router.SessionService = sessions
	router.Deliver = func(identifier, value string) {
		e.Delivered[identifier] = value
	}
	router.ApplyRoutes()
	e.Router = router

	return e
}

// do posts a JSON body from a unique client IP so the per-IP limiter never
// interferes with test traffic.
func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	e.ipSeq++
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.%d.%d", e.ipSeq/250, e.ipSeq%250+1))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.Router.ServeHTTP(rec, req)
	return rec
}

func (e *env) seedUser(t *testing.T) domain.User {
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

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestOTPRequest(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/otp/request", map[string]string{
		"channel": "email",
		"subject": "u1",
		"purpose": "LOGIN",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, e.Delivered["email:u1"], service.DefaultOTPLength)
}

func TestOTPRequest_BadInput(t *testing.T) {
	e := newEnv(t)

	for name, body := range map[string]map[string]string{
		"bad channel":     {"channel": "carrier-pigeon", "subject": "u1", "purpose": "LOGIN"},
		"bad purpose":     {"channel": "email", "subject": "u1", "purpose": "BANANA"},
		"missing subject": {"channel": "email", "purpose": "LOGIN"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/v1/otp/request", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestOTPRequest_RateLimited(t *testing.T) {
	e := newEnv(t)

	body := map[string]string{"channel": "email", "subject": "u1", "purpose": "LOGIN"}

	rec := e.do(t, http.MethodPost, "/v1/otp/request", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/otp/request", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestOTPVerify(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/otp/request", map[string]string{
		"channel": "email", "subject": "u1", "purpose": "REGISTER",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	code := e.Delivered["email:u1"]

	rec = e.do(t, http.MethodPost, "/v1/otp/verify", map[string]string{
		"channel": "email", "subject": "u1", "purpose": "REGISTER", "code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Consumed codes answer exactly like wrong ones.
	rec = e.do(t, http.MethodPost, "/v1/otp/verify", map[string]string{
		"channel": "email", "subject": "u1", "purpose": "REGISTER", "code": code,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPVerify_WrongCode(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/otp/verify", map[string]string{
		"channel": "email", "subject": "u1", "purpose": "LOGIN", "code": "000000",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOTPLogin(t *testing.T) {
	e := newEnv(t)
	user := e.seedUser(t)

	rec := e.do(t, http.MethodPost, "/v1/otp/request", map[string]string{
		"channel": "email", "subject": user.ID, "purpose": "LOGIN",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	code := e.Delivered["email:"+user.ID]

	rec = e.do(t, http.MethodPost, "/v1/otp/login", map[string]string{
		"channel": "email", "user_id": user.ID, "code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	pair := decodeJSON[domain.TokenPair](t, rec)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := e.Signer.Verify(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)
}

func TestOTPLogin_UnknownUserLooksLikeBadCode(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/otp/request", map[string]string{
		"channel": "email", "subject": "ghost", "purpose": "LOGIN",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodPost, "/v1/otp/login", map[string]string{
		"channel": "email", "user_id": "ghost", "code": e.Delivered["email:ghost"],
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordReset_FullFlow(t *testing.T) {
	e := newEnv(t)
	user := e.seedUser(t)

	rec := e.do(t, http.MethodPost, "/v1/password-reset/request", map[string]string{
		"email": user.Email,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	token := e.Delivered[user.Email]
	require.NotEmpty(t, token)

	rec = e.do(t, http.MethodPost, "/v1/password-reset/confirm", map[string]string{
		"user_id": user.ID, "token": token, "new_password": "fresh-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := e.Store.Users().GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NoError(t, cryptox.VerifyPassword("fresh-password", got.PasswordHash))
}

func TestPasswordReset_UnknownEmailStillAccepted(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/password-reset/request", map[string]string{
		"email": "nobody@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, e.Delivered["nobody@example.com"])
}

func TestPasswordReset_BadToken(t *testing.T) {
	e := newEnv(t)
	user := e.seedUser(t)

	rec := e.do(t, http.MethodPost, "/v1/password-reset/confirm", map[string]string{
		"user_id": user.ID, "token": "wrong", "new_password": "fresh-password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRefresh(t *testing.T) {
	e := newEnv(t)
	user := e.seedUser(t)

	pair, err := e.Sessions.Create(context.Background(), user.ID, "otp")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/v1/session/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	next := decodeJSON[domain.TokenPair](t, rec)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The replay answers like any other bad token.
	rec = e.do(t, http.MethodPost, "/v1/session/refresh", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// And the replacement it minted is dead too.
	rec = e.do(t, http.MethodPost, "/v1/session/refresh", map[string]string{
		"refresh_token": next.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionRefresh_UnknownToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/session/refresh", map[string]string{
		"refresh_token": "never-issued",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionLogout(t *testing.T) {
	e := newEnv(t)
	user := e.seedUser(t)

	pair, err := e.Sessions.Create(context.Background(), user.ID, "otp")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/v1/session/logout", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Logging out twice or with garbage still answers 200.
	rec = e.do(t, http.MethodPost, "/v1/session/logout", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLivez(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeJSON[healthResponse](t, rec)
	require.Equal(t, "ok", health.Status)
}

func TestReadyz(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	e.Redis.Close()

	rec = e.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health := decodeJSON[healthResponse](t, rec)
	require.Equal(t, "degraded", health.Status)
}
