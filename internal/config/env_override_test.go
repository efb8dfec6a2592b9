package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("escape hatch URL is used verbatim", func(t *testing.T) {
		t.Setenv(EnvExternal, "http://10.0.0.5:7000/")
		t.Setenv(EnvPort, "")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.True(t, cfg.IsExternal())
		assert.Equal(t, "http://10.0.0.5:7000", cfg.ExternalBaseURL())
	})

	t.Run("escape hatch marker uses ADDRESS and PORT", func(t *testing.T) {
		t.Setenv(EnvExternal, "1")
		t.Setenv(EnvAddress, "127.0.0.1")
		t.Setenv(EnvPort, "4321")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())

		assert.Equal(t, "http://127.0.0.1:4321", cfg.ExternalBaseURL())
	})

	t.Run("invalid PORT", func(t *testing.T) {
		t.Setenv(EnvPort, "eighty")

		cfg := DefaultConfig()
		assert.ErrorContains(t, cfg.applyEnvOverrides(), "invalid PORT")
	})

	t.Run("log level", func(t *testing.T) {
		t.Setenv(EnvLogLevel, "debug")
		t.Setenv(EnvPort, "")

		cfg := DefaultConfig()
		require.NoError(t, cfg.applyEnvOverrides())
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is fine", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
	})

	t.Run("does not override existing variables", func(t *testing.T) {
		path := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(path, []byte("ADDRESS=from-file\nSANDBOX_TEST_ONLY=loaded\n"), 0o644))
		t.Setenv(EnvAddress, "from-env")
		t.Setenv("SANDBOX_TEST_ONLY", "")
		os.Unsetenv("SANDBOX_TEST_ONLY")

		require.NoError(t, LoadDotEnv(path))
		assert.Equal(t, "from-env", os.Getenv(EnvAddress))
		assert.Equal(t, "loaded", os.Getenv("SANDBOX_TEST_ONLY"))
	})
}
