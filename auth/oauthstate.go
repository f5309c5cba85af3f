package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// StateTTL bounds how long an OAuth state blob remains valid.
const StateTTL = 600 * time.Second

// OAuthState is the payload carried through the OAuth round-trip.
type OAuthState struct {
	IssuedAt int64  `json:"iat"`
	Next     string `json:"next"`
}

// GenerateOAuthState produces a URL-safe base64 payload and its hex HMAC-SHA256
// signature joined by a dot. nextPath defaults to /profile.
func (s *TokenService) GenerateOAuthState(nextPath string) (string, error) {
	if nextPath == "" {
		nextPath = "/profile"
	}
	body := OAuthState{
		IssuedAt: time.Now().Unix(),
		Next:     nextPath,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + s.signState(payload), nil
}

// ValidateOAuthState verifies the signature with a constant-time compare,
// decodes the payload and enforces the state TTL.
func (s *TokenService) ValidateOAuthState(state string) (*OAuthState, error) {
	payload, signature, found := strings.Cut(state, ".")
	if !found {
		return nil, ErrInvalidState
	}

	expected := s.signState(payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidState
	}

	data := &OAuthState{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, ErrInvalidState
	}

	if time.Since(time.Unix(data.IssuedAt, 0)) > StateTTL {
		return nil, ErrStateExpired
	}
	return data, nil
}

func (s *TokenService) signState(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
