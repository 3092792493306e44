package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("VAULTSIGN_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.Equal(t, defaultSignedTTL, cfg.SignedURLTTL)
	assert.InDelta(t, 0.20, cfg.ConflictThreshold, 1e-9)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.True(t, cfg.Local())
}

func TestLoadFromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTSIGN_ADDRESS", ":9090")
	t.Setenv("VAULTSIGN_SIGNED_TTL", "2m")
	t.Setenv("VAULTSIGN_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("VAULTSIGN_PUBLIC_URL", "https://sign.example.com/")
	t.Setenv("VAULTSIGN_CONFLICT_THRESHOLD", "0.5")
	t.Setenv("VAULTSIGN_COMPOSE_CONCURRENCY", "-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, 2*time.Minute, cfg.SignedURLTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "https://sign.example.com", cfg.PublicBaseURL)
	assert.InDelta(t, 0.5, cfg.ConflictThreshold, 1e-9)
	assert.Equal(t, defaultCompose, cfg.ComposeConcurrency)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("VAULTSIGN_TEST_DOTENV_BUCKET=from-file\n"), 0o600))
	t.Setenv("VAULTSIGN_ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("VAULTSIGN_TEST_DOTENV_BUCKET") })

	_, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", os.Getenv("VAULTSIGN_TEST_DOTENV_BUCKET"))
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTSIGN_STORAGE", "ftp")

	_, err := Load()
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestMinioRequiresEndpoint(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTSIGN_STORAGE", "minio")

	_, err := Load()
	assert.ErrorContains(t, err, "VAULTSIGN_S3_ENDPOINT")
}

func TestJWTSecretRequiredOutsideLocal(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTSIGN_ENVIRONMENT", "production")
	t.Setenv("VAULTSIGN_JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "VAULTSIGN_JWT_SECRET")

	t.Setenv("VAULTSIGN_JWT_SECRET", "prod-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("prod-secret"), cfg.JWTSecret)
}

func TestLocalGetsDevJWTSecret(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTSIGN_JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte(devJWTSecret), cfg.JWTSecret)
}
