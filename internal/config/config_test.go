package config

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvExternal, EnvAddress, EnvPort, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "cargo", cfg.Server.Command)
	assert.Equal(t, "Running `", cfg.Server.ReadyMarker)
	assert.Equal(t, "serverLog.txt", cfg.Server.LogFile)
	assert.Equal(t, 300*time.Second, cfg.GetStartupTimeout())
	assert.Equal(t, 10000, cfg.Server.PortMin)
	assert.Equal(t, 60000, cfg.Server.PortMax)
	assert.Equal(t, 10, cfg.Harness.MinInputs)
	assert.Equal(t, 100, cfg.Harness.MaxInputs)
	assert.True(t, cfg.Harness.FromRNG)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	content := `server:
  command: ./api
  args: ["--verbose"]
  startup_timeout: 45s
  ready_marker: listening on
harness:
  max_inputs: 50
report:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./api", cfg.Server.Command)
	assert.Equal(t, []string{"--verbose"}, cfg.Server.Args)
	assert.Equal(t, 45*time.Second, cfg.GetStartupTimeout())
	assert.Equal(t, "listening on", cfg.Server.ReadyMarker)
	assert.Equal(t, 50, cfg.Harness.MaxInputs)
	assert.Equal(t, 10, cfg.Harness.MinInputs, "unset fields keep defaults")
	assert.Equal(t, "json", cfg.Report.Format)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.StartupTimeout = "soon"
	cfg.Server.ShutdownGrace = "-1s"
	cfg.API.Timeout = "bogus"

	assert.Equal(t, 300*time.Second, cfg.GetStartupTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetShutdownGrace())
	assert.Equal(t, time.Duration(0), cfg.GetAPITimeout())

	cfg.API.Timeout = "90s"
	assert.Equal(t, 90*time.Second, cfg.GetAPITimeout())
}

func TestValidate(t *testing.T) {
	t.Run("bad port range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.PortMin = 60000
		cfg.Server.PortMax = 10000
		assert.ErrorContains(t, cfg.Validate(), "invalid port range")
	})

	t.Run("missing marker", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.ReadyMarker = ""
		assert.ErrorContains(t, cfg.Validate(), "ready_marker")
	})

	t.Run("external mode ignores server settings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.External = "1"
		cfg.Server.Command = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad report format", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Report.Format = "html"
		assert.ErrorContains(t, cfg.Validate(), "invalid report format")
	})

	t.Run("pinned port out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 70000
		assert.ErrorContains(t, cfg.Validate(), "invalid server port")
	})

	t.Run("inverted input bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Harness.MinInputs = 20
		cfg.Harness.MaxInputs = 5
		assert.ErrorContains(t, cfg.Validate(), "example input bounds")
	})
}

func TestRandomPortRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 1000; i++ {
		p := RandomPort(rng, 10000, 60000)
		require.GreaterOrEqual(t, p, 10000)
		require.Less(t, p, 60000)
	}
}
