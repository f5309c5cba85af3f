// Package auth implements the token and crypto core: HMAC-signed OAuth state
// blobs, symmetric access tokens, rotating refresh secrets, audience-scoped
// share tokens and API key issuance.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenAudience scopes bearer access tokens to the DevLens API.
const AccessTokenAudience = "devlens-api"

// AccessClaims are the claims carried by a bearer access token.
type AccessClaims struct {
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the symmetric tokens used by the service.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a token service signing with secret.
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// CreateAccessToken issues an HS256 access token for userID.
func (s *TokenService) CreateAccessToken(userID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		Typ: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{AccessTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// DecodeAccessToken verifies signature, audience and expiry and returns the
// user id the token was issued for.
func (s *TokenService) DecodeAccessToken(tokenString string) (uuid.UUID, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(AccessTokenAudience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, ErrInvalidToken
	}
	if !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidPayload
	}
	return userID, nil
}

// AccessTokenTTL reports the configured access token lifetime.
func (s *TokenService) AccessTokenTTL() time.Duration { return s.accessTTL }

// RefreshExpiry returns the expiry timestamp for a refresh token issued now.
func (s *TokenService) RefreshExpiry() time.Time {
	return time.Now().UTC().Add(s.refreshTTL)
}

// IssueRefreshToken generates an opaque refresh secret with 48 bytes of
// entropy, URL-safe encoded. Only its hash is ever persisted.
func IssueRefreshToken() (string, error) {
	return randomURLSafe(48)
}

// HashRefreshToken returns the SHA-256 hex digest stored for a refresh secret.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewCSRFToken generates the random double-submit value set alongside the
// refresh cookie.
func NewCSRFToken() (string, error) {
	return randomURLSafe(24)
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
