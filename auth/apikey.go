package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// APIKeyPrefixLen is the number of leading characters of a raw key that are
// stored for display and lookup.
const APIKeyPrefixLen = 12

// IssuedAPIKey holds the material produced for a freshly minted key. Raw is
// shown to the caller exactly once; only Hash, Prefix and Last4 persist.
type IssuedAPIKey struct {
	Raw    string
	Hash   string
	Prefix string
	Last4  string
}

// IssueAPIKey mints a new API key of the form dlk_<43 url-safe chars>.
func IssueAPIKey() (*IssuedAPIKey, error) {
	secret, err := randomURLSafe(30)
	if err != nil {
		return nil, err
	}
	raw := "dlk_" + secret
	return &IssuedAPIKey{
		Raw:    raw,
		Hash:   HashAPIKey(raw),
		Prefix: raw[:APIKeyPrefixLen],
		Last4:  raw[len(raw)-4:],
	}, nil
}

// HashAPIKey returns the SHA-256 hex digest stored for a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAPIKey reports whether a bearer credential has the API key shape,
// so the authenticator can route it away from JWT parsing.
func LooksLikeAPIKey(credential string) bool {
	return strings.HasPrefix(credential, "dlk_")
}
