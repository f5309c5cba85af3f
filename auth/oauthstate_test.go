package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthStateRoundTrip(t *testing.T) {
	svc := newTestService()

	state, err := svc.GenerateOAuthState("/repos/abc")
	require.NoError(t, err)
	require.Contains(t, state, ".")

	decoded, err := svc.ValidateOAuthState(state)
	require.NoError(t, err)
	assert.Equal(t, "/repos/abc", decoded.Next)
	assert.WithinDuration(t, time.Now(), time.Unix(decoded.IssuedAt, 0), 5*time.Second)
}

func TestOAuthStateDefaultNext(t *testing.T) {
	svc := newTestService()

	state, err := svc.GenerateOAuthState("")
	require.NoError(t, err)

	decoded, err := svc.ValidateOAuthState(state)
	require.NoError(t, err)
	assert.Equal(t, "/profile", decoded.Next)
}

func TestOAuthStateTamperedPayload(t *testing.T) {
	svc := newTestService()

	state, err := svc.GenerateOAuthState("/profile")
	require.NoError(t, err)

	_, signature, _ := strings.Cut(state, ".")
	forged, err := json.Marshal(OAuthState{IssuedAt: time.Now().Unix(), Next: "/admin"})
	require.NoError(t, err)
	tampered := base64.RawURLEncoding.EncodeToString(forged) + "." + signature

	_, err = svc.ValidateOAuthState(tampered)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOAuthStateWrongSecret(t *testing.T) {
	svc := newTestService()
	other := NewTokenService("different-secret", 30*time.Minute, 14*24*time.Hour)

	state, err := svc.GenerateOAuthState("/profile")
	require.NoError(t, err)

	_, err = other.ValidateOAuthState(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOAuthStateMissingSignature(t *testing.T) {
	svc := newTestService()
	_, err := svc.ValidateOAuthState("payload-without-dot")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOAuthStateExpired(t *testing.T) {
	svc := newTestService()

	stale, err := json.Marshal(OAuthState{
		IssuedAt: time.Now().Add(-StateTTL - time.Minute).Unix(),
		Next:     "/profile",
	})
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(stale)
	state := payload + "." + svc.signState(payload)

	_, err = svc.ValidateOAuthState(state)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestIssueAPIKeyShape(t *testing.T) {
	key, err := IssueAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key.Raw, "dlk_"))
	assert.True(t, LooksLikeAPIKey(key.Raw))
	assert.Equal(t, key.Raw[:12], key.Prefix)
	assert.Equal(t, key.Raw[len(key.Raw)-4:], key.Last4)
	assert.Len(t, key.Hash, 64)
	assert.Equal(t, key.Hash, HashAPIKey(key.Raw))

	second, err := IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key.Raw, second.Raw)
}
