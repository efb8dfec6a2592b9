package execution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
)

func loadDefinitions(t *testing.T) (*function.Function, *function.Profile) {
	t.Helper()
	fn, err := function.LoadFunction("../../function.json")
	require.NoError(t, err)
	p, err := function.LoadProfile("../../profile.json")
	require.NoError(t, err)
	return fn, p
}

func TestExecuteSendsRequest(t *testing.T) {
	fn, p := loadDefinitions(t)

	var got map[string]any
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		requestID = r.Header.Get("X-Request-Id")

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Write([]byte(`{"id": "x", "output": 0.4, "error": null, "tasks_errors": false, "tasks": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	resp, err := c.Execute(context.Background(), &Request{
		Input:    5.0,
		Function: fn,
		Profile:  p,
		FromRNG:  true,
		Strategy: SwissSystem,
	})
	require.NoError(t, err)
	assert.False(t, resp.HasError())
	assert.False(t, resp.TasksErrors)
	assert.Empty(t, resp.Failure())

	_, err = uuid.Parse(requestID)
	assert.NoError(t, err, "request id must be a uuid")

	assert.Equal(t, 5.0, got["input"])
	assert.Equal(t, true, got["from_rng"])
	assert.Equal(t, map[string]any{"type": "swiss_system"}, got["strategy"])
	assert.Equal(t, "scalar.function", got["function"].(map[string]any)["type"])

	// Fields the sandbox does not model reach the service.
	llms := got["profile"].(map[string]any)["tasks"].([]any)[0].(map[string]any)["ensemble"].(map[string]any)["llms"].([]any)
	assert.Equal(t, 20.0, llms[3].(map[string]any)["top_logprobs"])
}

func TestExecuteDefaultStrategyIsOmitted(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"error": null}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Execute(context.Background(), &Request{Input: 1.0})
	require.NoError(t, err)
	assert.NotContains(t, got, "strategy")
}

func TestExecuteReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"error": {"code": 500, "message": "upstream failed"},
			"tasks_errors": true,
			"tasks": [
				{"error": null},
				{"error": {"message": "bad vote"}},
				{"tasks": [{"error": {"code": 1}}]}
			]
		}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Execute(context.Background(), &Request{Input: 1.0})
	require.NoError(t, err)

	assert.True(t, resp.HasError())
	assert.Equal(t, "upstream failed (code 500)", resp.ErrorMessage())
	assert.True(t, resp.TasksErrors)
	assert.Equal(t, []string{
		"tasks[1]: bad vote",
		`tasks[2].tasks[0]: {"code": 1}`,
	}, resp.TaskErrors())
	assert.Contains(t, resp.Failure(), "upstream failed")
	assert.Contains(t, resp.Failure(), "tasks_errors")
}

func TestExecuteStatusError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid function", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Execute(context.Background(), &Request{Input: 1.0})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, "invalid function", statusErr.Body)
	assert.Equal(t, 1, calls, "requests are never retried")
}

func TestExecuteInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Execute(context.Background(), &Request{Input: 1.0})
	assert.Error(t, err)
}

func TestExecuteHonorsTimeoutAndContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Execute(context.Background(), &Request{Input: 1.0})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewClient(srv.URL).Execute(ctx, &Request{Input: 1.0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutIndependentOfOptionOrder(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	custom := &http.Client{}
	tests := map[string][]ClientOption{
		"timeout first":  {WithTimeout(50 * time.Millisecond), WithHTTPClient(custom)},
		"timeout last":   {WithHTTPClient(custom), WithTimeout(50 * time.Millisecond)},
		"nil http first": {WithHTTPClient(nil), WithTimeout(50 * time.Millisecond)},
		"nil http last":  {WithTimeout(50 * time.Millisecond), WithHTTPClient(nil)},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			_, err := NewClient(srv.URL, opts...).Execute(context.Background(), &Request{Input: 1.0})

			var netErr net.Error
			require.ErrorAs(t, err, &netErr)
			assert.True(t, netErr.Timeout())
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
	assert.Zero(t, custom.Timeout, "caller's client is not modified")
}

func TestNilHTTPClientKeepsDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": null, "tasks_errors": false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(nil))
	require.NotNil(t, c.httpClient)
	_, err := c.Execute(context.Background(), &Request{Input: 1.0})
	require.NoError(t, err)
}

func TestWithExecutePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/functions", r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithExecutePath("v1/functions")).Execute(context.Background(), &Request{})
	require.NoError(t, err)
}

func TestStrategyName(t *testing.T) {
	assert.Equal(t, "Default", StrategyName(nil))
	assert.Equal(t, "SwissSystem", StrategyName(SwissSystem))
}
