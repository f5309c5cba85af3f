package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ShareTokenAudience scopes share tokens apart from access tokens.
const ShareTokenAudience = "devlens-share"

// ShareClaims are the claims of a public share token. The token id (jti)
// references a persisted share_tokens row; both the signature and the row
// must validate for access.
type ShareClaims struct {
	Typ string `json:"typ"`
	jwt.RegisteredClaims
}

// CreateShareToken signs a share token binding repoID (sub) to shareID (jti)
// with the given expiry.
func (s *TokenService) CreateShareToken(repoID, shareID uuid.UUID, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := ShareClaims{
		Typ: "share",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   repoID.String(),
			Audience:  jwt.ClaimStrings{ShareTokenAudience},
			ID:        shareID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// DecodeShareToken verifies signature, audience, type and expiry, returning
// the repo and share ids the token binds together.
func (s *TokenService) DecodeShareToken(tokenString string) (repoID, shareID uuid.UUID, err error) {
	claims := &ShareClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(ShareTokenAudience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	if !token.Valid || claims.Typ != "share" {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return uuid.Nil, uuid.Nil, ErrInvalidPayload
	}

	repoID, err = uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidPayload
	}
	shareID, err = uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidPayload
	}
	return repoID, shareID, nil
}
