package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestTokenRoundTrip(t *testing.T) {
	token, err := issueToken(testKey, "geodepot", time.Hour, 42, time.Now())
	require.NoError(t, err)

	userID, err := parseToken(testKey, "geodepot", token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenRejectsWrongKey(t *testing.T) {
	token, err := issueToken(testKey, "geodepot", time.Hour, 42, time.Now())
	require.NoError(t, err)

	_, err = parseToken([]byte("another-signing-key-entirely!!!!"), "geodepot", token)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindPermissionDenied))
}

func TestTokenRejectsWrongIssuer(t *testing.T) {
	token, err := issueToken(testKey, "someone-else", time.Hour, 42, time.Now())
	require.NoError(t, err)

	_, err = parseToken(testKey, "geodepot", token)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindPermissionDenied))
}

func TestTokenRejectsExpired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	token, err := issueToken(testKey, "geodepot", time.Hour, 42, issued)
	require.NoError(t, err)

	_, err = parseToken(testKey, "geodepot", token)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindPermissionDenied))
}

func TestTokenRejectsUnsignedAlgorithm(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    "geodepot",
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = parseToken(testKey, "geodepot", unsigned)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindPermissionDenied))
}

func TestTokenRejectsNonNumericSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    "geodepot",
		Subject:   "not-a-user-id",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	_, err = parseToken(testKey, "geodepot", token)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindPermissionDenied))
}
