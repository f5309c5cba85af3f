package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *TokenService {
	return NewTokenService("test-secret-key", 30*time.Minute, 14*24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	userID := uuid.New()

	token, err := svc.CreateAccessToken(userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := svc.DecodeAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, decoded)
}

func TestDecodeAccessTokenWrongSecret(t *testing.T) {
	svc := newTestService()
	other := NewTokenService("different-secret", 30*time.Minute, 14*24*time.Hour)

	token, err := svc.CreateAccessToken(uuid.New())
	require.NoError(t, err)

	_, err = other.DecodeAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeAccessTokenExpired(t *testing.T) {
	svc := NewTokenService("test-secret-key", -time.Minute, 14*24*time.Hour)

	token, err := svc.CreateAccessToken(uuid.New())
	require.NoError(t, err)

	_, err = newTestService().DecodeAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestDecodeAccessTokenRejectsShareToken(t *testing.T) {
	svc := newTestService()

	token, err := svc.CreateShareToken(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Wrong audience, even though the signature is valid.
	_, err = svc.DecodeAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeAccessTokenGarbage(t *testing.T) {
	_, err := newTestService().DecodeAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestShareTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	repoID := uuid.New()
	shareID := uuid.New()

	token, err := svc.CreateShareToken(repoID, shareID, time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	gotRepo, gotShare, err := svc.DecodeShareToken(token)
	require.NoError(t, err)
	assert.Equal(t, repoID, gotRepo)
	assert.Equal(t, shareID, gotShare)
}

func TestDecodeShareTokenExpired(t *testing.T) {
	svc := newTestService()

	token, err := svc.CreateShareToken(uuid.New(), uuid.New(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, _, err = svc.DecodeShareToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestDecodeShareTokenRejectsAccessToken(t *testing.T) {
	svc := newTestService()

	token, err := svc.CreateAccessToken(uuid.New())
	require.NoError(t, err)

	_, _, err = svc.DecodeShareToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeShareTokenBadSubject(t *testing.T) {
	svc := newTestService()

	claims := ShareClaims{
		Typ: "share",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Audience:  jwt.ClaimStrings{ShareTokenAudience},
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	_, _, err = svc.DecodeShareToken(token)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRefreshTokenIssuance(t *testing.T) {
	first, err := IssueRefreshToken()
	require.NoError(t, err)
	second, err := IssueRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 64, len(first)) // 48 bytes, base64 url-safe without padding

	hash := HashRefreshToken(first)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashRefreshToken(first))
	assert.NotEqual(t, hash, HashRefreshToken(second))
}

func TestRefreshExpiry(t *testing.T) {
	svc := newTestService()
	expiry := svc.RefreshExpiry()
	assert.WithinDuration(t, time.Now().UTC().Add(14*24*time.Hour), expiry, time.Minute)
}
