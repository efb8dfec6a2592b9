package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		sig  os.Signal
		want int
	}{
		{"success", nil, nil, 0},
		{"checks failed", errChecksFailed, nil, 1},
		{"environment error", errors.New("failed to start api server"), nil, 1},
		{"sigint", context.Canceled, syscall.SIGINT, 130},
		{"sigterm", context.Canceled, syscall.SIGTERM, 143},
		{"sigint after success", nil, syscall.SIGINT, 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err, tt.sig))
		})
	}
}

// workspace copies the fixtures into a fresh working directory that points
// at an external server.
func workspace(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	for _, name := range []string{"function.json", "profile.json", "inputs.json"} {
		data, err := os.ReadFile(filepath.Join("..", "..", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
	t.Chdir(dir)

	t.Setenv(config.EnvExternal, srv.URL)
	t.Setenv(config.EnvPort, "")
	t.Setenv(config.EnvAddress, "")
	t.Setenv(config.EnvLogLevel, "")
}

func TestRunAgainstExternalServer(t *testing.T) {
	workspace(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": null, "tasks_errors": false, "output": 0.5}`))
	})

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out))
	assert.Contains(t, out.String(), "ALL CHECKS PASSED")
	assert.Contains(t, out.String(), "Scalar Function Execution Validation (Default Strategy): PASSED")
}

func TestRunReportsFailedChecks(t *testing.T) {
	workspace(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "nope"}}`))
	})

	var out bytes.Buffer
	err := run(context.Background(), &out)
	require.ErrorIs(t, err, errChecksFailed)
	assert.Contains(t, out.String(), "SOME CHECKS FAILED")
	assert.Contains(t, out.String(), "nope (code 400)")
	assert.Equal(t, 1, exitCode(err, nil))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	workspace(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	require.NoError(t, os.WriteFile(config.DefaultPath, []byte("report:\n  format: xml\n"), 0644))

	var out bytes.Buffer
	err := run(context.Background(), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Empty(t, out.String())
}
