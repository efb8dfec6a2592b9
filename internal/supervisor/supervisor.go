// Package supervisor runs the ObjectiveAI API server as a child process for
// the duration of a sandbox run.
//
// Acquire spawns the server on a random port, tees its combined output into
// a log file, and blocks until a readiness marker shows up in that output.
// The returned Handle owns a Guard; releasing it terminates the server's
// whole process group. When the escape hatch is set, Acquire manages
// nothing and points the handle at an already-running server.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/config"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// Errors returned by Acquire.
var (
	ErrStartupTimeout = errors.New("api server did not become ready before the startup timeout")
	ErrSpawn          = errors.New("failed to spawn api server")
)

// PrematureExitError reports a server that exited before it became ready.
type PrematureExitError struct {
	Code int
	Err  error
}

func (e *PrematureExitError) Error() string {
	return fmt.Sprintf("api server exited with code %d before becoming ready", e.Code)
}

func (e *PrematureExitError) Unwrap() error { return e.Err }

// Config describes how to run the server.
type Config struct {
	Command string
	Args    []string
	Dir     string
	// Env is appended to the parent environment.
	Env []string

	// PortEnv names the variable the port is passed through.
	PortEnv string
	// Port pins the port. Zero picks one from [PortMin, PortMax).
	Port    int
	PortMin int
	PortMax int
	// Address is the host used in the handle's base URL.
	Address string

	LogPath     string
	ReadyMarker string

	StartupTimeout time.Duration
	ShutdownGrace  time.Duration

	// External, when non-empty, disables process management entirely.
	External        string
	ExternalBaseURL string
}

// FromConfig maps the sandbox configuration onto a supervisor Config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Command:         cfg.Server.Command,
		Args:            cfg.Server.Args,
		Dir:             cfg.Server.Dir,
		PortEnv:         cfg.Server.PortEnv,
		Port:            cfg.Server.Port,
		PortMin:         cfg.Server.PortMin,
		PortMax:         cfg.Server.PortMax,
		Address:         cfg.API.Address,
		LogPath:         cfg.Server.LogFile,
		ReadyMarker:     cfg.Server.ReadyMarker,
		StartupTimeout:  cfg.GetStartupTimeout(),
		ShutdownGrace:   cfg.GetShutdownGrace(),
		External:        cfg.Server.External,
		ExternalBaseURL: cfg.ExternalBaseURL(),
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPortPicker replaces the random port choice.
func WithPortPicker(fn func(lo, hi int) int) Option {
	return func(s *Supervisor) {
		s.pickPort = fn
	}
}

// Supervisor starts and stops the API server.
type Supervisor struct {
	cfg      Config
	pickPort func(lo, hi int) int
}

// New creates a supervisor.
func New(cfg Config, opts ...Option) *Supervisor {
	if cfg.PortEnv == "" {
		cfg.PortEnv = config.EnvPort
	}
	if cfg.Address == "" {
		cfg.Address = "localhost"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 300 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	s := &Supervisor{
		cfg: cfg,
		pickPort: func(lo, hi int) int {
			return config.RandomPort(nil, lo, hi)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is a usable server endpoint.
type Handle struct {
	BaseURL string
	Port    int
	guard   *Guard
}

// Managed reports whether the handle owns a child process.
func (h *Handle) Managed() bool {
	return h != nil && h.guard != nil
}

// PID returns the child's process id, or 0 for an unmanaged handle.
func (h *Handle) PID() int {
	if !h.Managed() {
		return 0
	}
	return h.guard.pid
}

// Acquire returns a ready server. It blocks until the readiness marker is
// seen, the startup timeout fires, the child exits, or ctx is done. On any
// error the child has already been terminated.
func (s *Supervisor) Acquire(ctx context.Context) (*Handle, error) {
	if s.cfg.External != "" {
		logging.Supervisor("escape hatch set, using running server at %s", s.cfg.ExternalBaseURL)
		return &Handle{BaseURL: s.cfg.ExternalBaseURL}, nil
	}

	if s.cfg.LogPath == "" {
		return nil, errors.New("log path must be set")
	}
	if dir := filepath.Dir(s.cfg.LogPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	logFile, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open server log: %w", err)
	}

	port := s.cfg.Port
	if port == 0 {
		port = s.pickPort(s.cfg.PortMin, s.cfg.PortMax)
	}

	ready := newReadiness(s.cfg.ReadyMarker)
	sink := &outputSink{log: logFile, ready: ready}

	// The child writes straight into a pipe we own, so Wait returns as soon
	// as the child exits even if something it started keeps the pipe open.
	pr, pw, err := os.Pipe()
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", s.cfg.PortEnv, port))
	cmd.Stdout = pw
	cmd.Stderr = pw
	setupProcessGroup(cmd)

	err = cmd.Start()
	pw.Close()
	if err != nil {
		pr.Close()
		logFile.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, s.cfg.Command, err)
	}

	guard := newGuard(cmd, pr, logFile, s.cfg.ShutdownGrace)
	logging.Supervisor("spawned %s (pid %d) on port %d", s.cfg.Command, guard.pid, port)

	go func() {
		defer close(guard.drained)
		if _, err := io.Copy(sink, pr); err != nil && !errors.Is(err, os.ErrClosed) {
			logging.SupervisorDebug("server output: %v", err)
		}
	}()

	go func() {
		err := cmd.Wait()
		ready.transition(event{kind: eventExit, code: exitCode(cmd, err), cause: err})
		guard.exited(err)
	}()

	timer := time.AfterFunc(s.cfg.StartupTimeout, func() {
		ready.transition(event{kind: eventTimeout})
	})
	defer timer.Stop()

	select {
	case <-ready.resolved:
	case <-ctx.Done():
		ready.transition(event{kind: eventCancel, cause: ctx.Err()})
	}

	if state := ready.current(); state != StateReady {
		err := ready.err()
		logging.SupervisorWarn("api server not ready (%s): %v", state, err)
		if rerr := guard.Release(); rerr != nil {
			logging.SupervisorWarn("cleanup after failed start: %v", rerr)
		}
		return nil, err
	}

	logging.Supervisor("api server ready on port %d", port)
	return &Handle{
		BaseURL: fmt.Sprintf("http://%s:%d", s.cfg.Address, port),
		Port:    port,
		guard:   guard,
	}, nil
}

// Release terminates the server behind h. It is a no-op for unmanaged
// handles and safe to call more than once.
func (s *Supervisor) Release(h *Handle) error {
	if !h.Managed() {
		return nil
	}
	return h.guard.Release()
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
