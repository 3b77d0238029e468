// vidcutapi/config/config_test.go
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidcutapi/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "python download.py", cfg.DownloadCmd)
		assert.Equal(t, time.Hour, cfg.ProcessTimeout)
		assert.Equal(t, 60*time.Second, cfg.RefreshPoll)
		assert.Equal(t, "03:00", cfg.RefreshAt)
		assert.Equal(t, int64(4*1024*1024), cfg.OutputCaptureLimit)
		assert.Equal(t, filepath.Join("./temp", "cookies"), cfg.CookiesDir)
		assert.Equal(t, "sqlite", cfg.DBType)
		assert.Zero(t, cfg.OutputLocalLifetime)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("VIDCUT_PORT", "9999")
		t.Setenv("VIDCUT_AUTH_ENABLE", "true")
		t.Setenv("VIDCUT_AUTH_KEY", "newsecret")
		t.Setenv("VIDCUT_PROCESS_TIMEOUT", "12m3s")
		t.Setenv("VIDCUT_OUTPUT_CAPTURE_LIMIT", "50MB")
		t.Setenv("VIDCUT_COOKIES_DIR", "/var/lib/vidcut/cookies")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, 12*time.Minute+3*time.Second, cfg.ProcessTimeout)
		assert.Equal(t, int64(50*1024*1024), cfg.OutputCaptureLimit)
		assert.Equal(t, "/var/lib/vidcut/cookies", cfg.CookiesDir)
	})

	t.Run("reads platform credentials from the config file", func(t *testing.T) {
		dir := t.TempDir()
		chdir(t, dir)
		yaml := "PLATFORM_CREDENTIALS:\n  youtube:\n    username: someone@example.com\n    password: hunter2\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "vidcut_config.yaml"), []byte(yaml), 0o644))

		cfg, err := config.Load()
		require.NoError(t, err)
		require.Contains(t, cfg.PlatformCredentials, "youtube")
		assert.Equal(t, "someone@example.com", cfg.PlatformCredentials["youtube"].Username)
		assert.Equal(t, "hunter2", cfg.PlatformCredentials["youtube"].Password)
	})

	t.Run("rejects unknown database type", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("VIDCUT_DB_TYPE", "mysql")

		_, err := config.Load()
		assert.Error(t, err)
	})
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		DownloadsDir: filepath.Join(root, "downloads"),
		CutsDir:      filepath.Join(root, "cuts"),
		TempDir:      filepath.Join(root, "temp"),
		CookiesDir:   filepath.Join(root, "temp", "cookies"),
	}
	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DownloadsDir, cfg.CutsDir, cfg.TempDir, cfg.CookiesDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
