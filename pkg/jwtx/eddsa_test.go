package jwtx_test

import (
	"testing"
	"time"

	"github.com/openkettle/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := jwtx.GenerateSigner()
	require.NoError(t, err)

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims("user-1", "sid-1", []string{"otp"}, time.Minute, "authcore", now)

	tokenStr, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, tokenStr)

	parsed, err := signer.Verify(tokenStr)
	require.NoError(t, err)
	require.Equal(t, "user-1", parsed.Subject)
	require.Equal(t, "sid-1", parsed.SID)
	require.Equal(t, []string{"otp"}, parsed.AMR)
	require.NoError(t, parsed.ValidateExpiry())
	require.NoError(t, parsed.ValidateIssuer("authcore"))
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signerA, err := jwtx.GenerateSigner()
	require.NoError(t, err)
	signerB, err := jwtx.GenerateSigner()
	require.NoError(t, err)

	claims := jwtx.NewAccessClaims("user-1", "sid-1", nil, time.Minute, "authcore", time.Now().UTC())
	tokenStr, err := signerA.Sign(claims)
	require.NoError(t, err)

	_, err = signerB.Verify(tokenStr)
	require.Error(t, err)
}

func TestValidateExpiry(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Minute)
	claims := jwtx.NewAccessClaims("user-1", "sid-1", nil, time.Minute, "authcore", past)

	require.ErrorIs(t, claims.ValidateExpiry(), jwtx.ErrExpired)
}

func TestValidateIssuer(t *testing.T) {
	claims := jwtx.NewAccessClaims("user-1", "sid-1", nil, time.Minute, "authcore", time.Now().UTC())

	require.NoError(t, claims.ValidateIssuer(""))
	require.NoError(t, claims.ValidateIssuer("authcore"))
	require.ErrorIs(t, claims.ValidateIssuer("someone-else"), jwtx.ErrIssuer)
}

func TestClaimsHaveUniqueJTI(t *testing.T) {
	a := jwtx.NewAccessClaims("u", "s", nil, time.Minute, "authcore", time.Now().UTC())
	b := jwtx.NewAccessClaims("u", "s", nil, time.Minute, "authcore", time.Now().UTC())
	require.NotEqual(t, a.ID, b.ID)
}
