package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsSecretsFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-only-secret")
	t.Setenv("GITHUB_CLIENT_ID", "iv1.client")
	t.Setenv("GITHUB_CLIENT_SECRET", "shhh")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-only-secret", cfg.JWTSecret)
	assert.Equal(t, "iv1.client", cfg.GitHubClientID)
	assert.Equal(t, "shhh", cfg.GitHubClientSecret)
	assert.Equal(t, "sk-or-test", cfg.OpenRouterAPIKey)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "devlens", cfg.AppName)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "devlens_code_chunks", cfg.QdrantCollection)
	assert.Equal(t, 384, cfg.EmbedVectorSize)
	assert.Empty(t, cfg.GroqAPIKey)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret is required")
}

func TestValidateBounds(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:              "x",
			ServerPort:             8080,
			ParseChunkLines:        120,
			ParseChunkOverlapLines: 20,
			EmbedVectorSize:        384,
			ShareTokenTTLDays:      7,
		}
	}

	require.NoError(t, Validate(base()))

	bad := base()
	bad.ServerPort = 0
	assert.Error(t, Validate(bad))

	bad = base()
	bad.ParseChunkOverlapLines = 120
	assert.Error(t, Validate(bad))

	bad = base()
	bad.ShareTokenTTLDays = 31
	assert.Error(t, Validate(bad))
}
