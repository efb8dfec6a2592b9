package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables understood by the sandbox.
const (
	// EnvExternal skips process management and targets an already-running
	// API server. The value is either a base URL or any non-empty marker.
	EnvExternal = "ONLY_SET_IF_YOU_KNOW_WHAT_YOURE_DOING"
	EnvAddress  = "ADDRESS"
	EnvPort     = "PORT"
	EnvLogLevel = "SANDBOX_LOG_LEVEL"
)

// DefaultPath is the optional config file read from the workspace root.
const DefaultPath = "sandbox.yaml"

// Config holds all sandbox configuration.
type Config struct {
	// Managed API server
	Server ServerConfig `yaml:"server"`

	// Execution service endpoint
	API APIConfig `yaml:"api"`

	// On-disk definitions and examples
	Fixtures FixturesConfig `yaml:"fixtures"`

	// Check settings
	Harness HarnessConfig `yaml:"harness"`

	Report ReportConfig `yaml:"report"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the supervised API server process.
type ServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`

	// LogFile receives the server's stdout and stderr. Truncated per run.
	LogFile string `yaml:"log_file"`

	// ReadyMarker is the startup banner fragment that signals readiness.
	ReadyMarker string `yaml:"ready_marker"`

	StartupTimeout string `yaml:"startup_timeout"`
	ShutdownGrace  string `yaml:"shutdown_grace"`

	// PortEnv names the variable the chosen port is passed through.
	PortEnv string `yaml:"port_env"`
	// Port pins the server port. Zero picks one from [PortMin, PortMax).
	Port    int    `yaml:"port"`
	PortMin int    `yaml:"port_min"`
	PortMax int    `yaml:"port_max"`

	// External is the escape hatch; see EnvExternal.
	External string `yaml:"external"`
}

// APIConfig configures the execution service client.
type APIConfig struct {
	// Address is the host the client dials. Port is only used for an
	// external server; a managed server gets its own port.
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	ExecutePath string `yaml:"execute_path"`
	// Timeout for a single execution request. Empty means no client-side limit.
	Timeout string `yaml:"timeout"`
}

// FixturesConfig locates the function, profile and example inputs.
type FixturesConfig struct {
	Function string `yaml:"function"`
	Profile  string `yaml:"profile"`
	Inputs   string `yaml:"inputs"`
}

// HarnessConfig configures the validation checks.
type HarnessConfig struct {
	MinInputs int  `yaml:"min_inputs"`
	MaxInputs int  `yaml:"max_inputs"`
	FromRNG   bool `yaml:"from_rng"`
}

// ReportConfig selects how the final report is rendered.
type ReportConfig struct {
	Format string `yaml:"format"` // console, json
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Command:        "cargo",
			Args:           []string{"run", "--manifest-path", "./objectiveai/objectiveai-api/Cargo.toml"},
			LogFile:        "serverLog.txt",
			ReadyMarker:    "Running `",
			StartupTimeout: "300s",
			ShutdownGrace:  "5s",
			PortEnv:        EnvPort,
			PortMin:        10000,
			PortMax:        60000,
		},
		API: APIConfig{
			Address:     "localhost",
			Port:        5000,
			ExecutePath: "/functions",
		},
		Fixtures: FixturesConfig{
			Function: "function.json",
			Profile:  "profile.json",
			Inputs:   "inputs.json",
		},
		Harness: HarnessConfig{
			MinInputs: 10,
			MaxInputs: 100,
			FromRNG:   true,
		},
		Report: ReportConfig{
			Format: "console",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "sandbox.log",
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvExternal); v != "" {
		c.Server.External = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		c.API.Address = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		c.API.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// IsExternal reports whether the escape hatch is set.
func (c *Config) IsExternal() bool {
	return c.Server.External != ""
}

// ExternalBaseURL returns the endpoint of an already-running server. The
// escape-hatch value is used verbatim when it is a URL.
func (c *Config) ExternalBaseURL() string {
	if strings.Contains(c.Server.External, "://") {
		return strings.TrimRight(c.Server.External, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.API.Address, c.API.Port)
}

// GetStartupTimeout returns the server readiness timeout as a duration.
func (c *Config) GetStartupTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.StartupTimeout)
	if err != nil || d <= 0 {
		return 300 * time.Second
	}
	return d
}

// GetShutdownGrace returns how long Release waits after SIGTERM before SIGKILL.
func (c *Config) GetShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownGrace)
	if err != nil || d < 0 {
		return 5 * time.Second
	}
	return d
}

// GetAPITimeout returns the per-request client timeout. Zero means none.
func (c *Config) GetAPITimeout() time.Duration {
	if c.API.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ValidReportFormats lists the supported report renderers.
var ValidReportFormats = []string{"console", "json"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if !c.IsExternal() {
		if c.Server.Command == "" {
			errs = append(errs, errors.New("server.command must be set"))
		}
		if c.Server.ReadyMarker == "" {
			errs = append(errs, errors.New("server.ready_marker must be set"))
		}
		if c.Server.LogFile == "" {
			errs = append(errs, errors.New("server.log_file must be set"))
		}
		if c.Server.Port < 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
		}
		if c.Server.PortMin < 1024 || c.Server.PortMax > 65535 || c.Server.PortMin >= c.Server.PortMax {
			errs = append(errs, fmt.Errorf("invalid port range [%d, %d)", c.Server.PortMin, c.Server.PortMax))
		}
	} else if !strings.Contains(c.Server.External, "://") && (c.API.Port <= 0 || c.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid api port %d", c.API.Port))
	}

	if c.Harness.MinInputs < 0 || c.Harness.MinInputs > c.Harness.MaxInputs {
		errs = append(errs, fmt.Errorf("invalid example input bounds [%d, %d]", c.Harness.MinInputs, c.Harness.MaxInputs))
	}

	validFormat := false
	for _, f := range ValidReportFormats {
		if c.Report.Format == f {
			validFormat = true
			break
		}
	}
	if !validFormat {
		errs = append(errs, fmt.Errorf("invalid report format: %s (valid: %v)", c.Report.Format, ValidReportFormats))
	}

	return errors.Join(errs...)
}
