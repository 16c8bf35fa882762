package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoad_Defaults(t *testing.T) {
	for _, k := range []string{"LRE_SECRET_KEY", "LRE_HTTP_PORT", "LRE_TOKEN_EXPIRY_MINUTES", "LRE_BCRYPT_COST"} {
		_ = os.Unsetenv(k)
	}

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 60, cfg.TokenExpiryMinutes)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, 1<<20, cfg.MaxPayloadBytes)
	// development falls back to the insecure dev key
	assert.GreaterOrEqual(t, len(cfg.SecretKey), 32)
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	_ = os.Setenv("LRE_TOKEN_EXPIRY_MINUTES", "15")
	defer func() { _ = os.Unsetenv("LRE_TOKEN_EXPIRY_MINUTES") }()

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.TokenExpiryMinutes)
}

func TestValidate_ShortSecretFatal(t *testing.T) {
	cfg := NewForTesting()
	cfg.SecretKey = "too-short"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestValidate_ProductionRequiresSecret(t *testing.T) {
	cfg := NewForTesting()
	cfg.Environment = EnvProduction
	cfg.SecretKey = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_BcryptCostFloor(t *testing.T) {
	cfg := NewForTesting()
	cfg.BcryptCost = 4
	require.Error(t, cfg.Validate())
}
