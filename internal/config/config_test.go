package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("ENV_FILE", "")
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
}

func TestLoadDefaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, 3, cfg.Limits.FreeMaxResumes)
	assert.Equal(t, 50*time.Millisecond, cfg.Preview.Debounce)
	assert.Equal(t, 32, cfg.Preview.Padding)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("PREVIEW_DEBOUNCE", "120ms")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 120*time.Millisecond, cfg.Preview.Debounce)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.Origins())
}

func TestLoadReadsDotEnv(t *testing.T) {
	requiredEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "civy.env")
	require.NoError(t, os.WriteFile(file, []byte("BILLING_WEBHOOK_SECRET=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", file)
	// godotenv 写入的变量不会被 t.Setenv 自动清理。
	t.Cleanup(func() { _ = os.Unsetenv("BILLING_WEBHOOK_SECRET") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Billing.WebhookSecret)
}

func TestValidateRejectsInvertedLimits(t *testing.T) {
	requiredEnv(t)
	t.Setenv("FREE_MAX_RESUMES", "10")
	t.Setenv("PREMIUM_MAX_RESUMES", "2")

	_, err := Load()
	assert.ErrorContains(t, err, "premium resume limit")
}

func TestLoadRequiresMinioCredentials(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENV_FILE", "")
	t.Setenv("MINIO_ACCESS_KEY_ID", "")

	_, err := Load()
	assert.Error(t, err)

	db, err := LoadDatabase()
	require.NoError(t, err)
	assert.Equal(t, "civy", db.Name)
}

// chdir 等价于 Go 1.24 的 t.Chdir：切换工作目录并在测试结束时恢复。
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
