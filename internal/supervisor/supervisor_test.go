//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPort = 23456

func shellConfig(t *testing.T, script string) Config {
	t.Helper()
	return Config{
		Command:        "/bin/sh",
		Args:           []string{"-c", script},
		LogPath:        filepath.Join(t.TempDir(), "serverLog.txt"),
		ReadyMarker:    marker,
		StartupTimeout: 10 * time.Second,
		ShutdownGrace:  2 * time.Second,
		PortMin:        10000,
		PortMax:        60000,
	}
}

func newTestSupervisor(cfg Config) *Supervisor {
	return New(cfg, WithPortPicker(func(lo, hi int) int { return testPort }))
}

func processGone(pid int) bool {
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestAcquireWaitsForMarker(t *testing.T) {
	cfg := shellConfig(t, "echo \"compiling on port $PORT\"; sleep 0.2; echo '     Running `target/debug/objectiveai-api`'; exec sleep 60")
	require.NoError(t, os.WriteFile(cfg.LogPath, []byte("stale output from last run\n"), 0644))
	s := newTestSupervisor(cfg)

	start := time.Now()
	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release(h)

	assert.Less(t, time.Since(start), cfg.StartupTimeout)
	assert.True(t, h.Managed())
	assert.Positive(t, h.PID())
	assert.Equal(t, testPort, h.Port)
	assert.Equal(t, fmt.Sprintf("http://localhost:%d", testPort), h.BaseURL)

	log, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), fmt.Sprintf("compiling on port %d", testPort))
	assert.Contains(t, string(log), "Running `target/debug/objectiveai-api`")
	assert.NotContains(t, string(log), "stale output")
}

func TestReleaseLeavesNoProcess(t *testing.T) {
	s := newTestSupervisor(shellConfig(t, "echo 'Running `api`'; exec sleep 60"))

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	pid := h.PID()
	require.False(t, processGone(pid))

	require.NoError(t, s.Release(h))
	assert.True(t, processGone(pid), "process %d still exists after release", pid)

	// Releasing again is harmless.
	assert.NoError(t, s.Release(h))
}

func TestReleaseKillsProcessIgnoringTerm(t *testing.T) {
	cfg := shellConfig(t, "trap '' TERM; echo 'Running `api`'; while :; do sleep 0.1; done")
	cfg.ShutdownGrace = 300 * time.Millisecond
	s := newTestSupervisor(cfg)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	pid := h.PID()

	start := time.Now()
	require.NoError(t, s.Release(h))
	assert.GreaterOrEqual(t, time.Since(start), cfg.ShutdownGrace)
	assert.True(t, processGone(pid))
}

func TestAcquirePrematureExit(t *testing.T) {
	cfg := shellConfig(t, "echo 'error: could not compile'; exit 3")
	s := newTestSupervisor(cfg)

	h, err := s.Acquire(context.Background())
	assert.Nil(t, h)

	var exitErr *PrematureExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, err.Error(), "exited with code 3")

	log, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "could not compile")
}

func TestPrematureExitKillsLeftoverGroup(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "worker.pid")
	cfg := shellConfig(t, fmt.Sprintf("sleep 30 & echo $! > %s; echo 'error: build failed'; exit 3", pidFile))
	s := newTestSupervisor(cfg)

	start := time.Now()
	h, err := s.Acquire(context.Background())
	assert.Nil(t, h)

	var exitErr *PrematureExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Less(t, time.Since(start), cfg.ShutdownGrace, "exit is seen while the worker still holds the output pipe")

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	worker, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return processDead(worker) }, 2*time.Second, 20*time.Millisecond,
		"background process %d outlived the failed start", worker)

	log, err := os.ReadFile(cfg.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "build failed")
}

// processDead reports whether pid is gone or only a zombie waiting for its
// new parent to reap it.
func processDead(pid int) bool {
	if processGone(pid) {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesized command name.
	s := string(stat)
	i := strings.LastIndexByte(s, ')')
	return i >= 0 && i+2 < len(s) && s[i+2] == 'Z'
}

func TestAcquireTimeout(t *testing.T) {
	cfg := shellConfig(t, "echo 'Compiling'; exec sleep 60")
	cfg.StartupTimeout = 200 * time.Millisecond
	s := newTestSupervisor(cfg)

	start := time.Now()
	h, err := s.Acquire(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrStartupTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAcquireSpawnFailure(t *testing.T) {
	cfg := shellConfig(t, "")
	cfg.Command = filepath.Join(t.TempDir(), "no-such-cargo")
	s := newTestSupervisor(cfg)

	h, err := s.Acquire(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestAcquireCanceled(t *testing.T) {
	s := newTestSupervisor(shellConfig(t, "exec sleep 60"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	h, err := s.Acquire(ctx)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireEscapeHatch(t *testing.T) {
	cfg := shellConfig(t, "exit 1")
	cfg.External = "1"
	cfg.ExternalBaseURL = "http://10.0.0.5:5000"
	s := New(cfg)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Managed())
	assert.Zero(t, h.PID())
	assert.Equal(t, "http://10.0.0.5:5000", h.BaseURL)
	assert.NoError(t, s.Release(h))

	_, err = os.Stat(cfg.LogPath)
	assert.True(t, os.IsNotExist(err), "no log is written for an external server")
}

func TestPinnedPort(t *testing.T) {
	cfg := shellConfig(t, "echo \"port $PORT\"; echo 'Running `api`'; exec sleep 60")
	cfg.Port = 34567
	cfg.Address = "127.0.0.1"
	s := New(cfg)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Release(h)

	assert.Equal(t, "http://127.0.0.1:34567", h.BaseURL)
}
