// Package execution is a client for the ObjectiveAI function execution
// endpoint. It sends a function, a profile and one input, and returns the
// raw execution result for inspection.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// DefaultExecutePath is the execution endpoint relative to the base URL.
const DefaultExecutePath = "/functions"

// Strategy selects how the service aggregates ensemble votes. A nil
// *Strategy is the default strategy.
type Strategy struct {
	Type string `json:"type"`
}

// SwissSystem is the tournament-style strategy.
var SwissSystem = &Strategy{Type: "swiss_system"}

// StrategyName names a strategy for reports.
func StrategyName(s *Strategy) string {
	if s == nil {
		return "Default"
	}
	if s.Type == SwissSystem.Type {
		return "SwissSystem"
	}
	return s.Type
}

// Request is one execution of a function against an input.
type Request struct {
	Input    any                `json:"input"`
	Function *function.Function `json:"function"`
	Profile  *function.Profile  `json:"profile"`
	// FromRNG makes the service draw votes from a seeded generator instead of
	// calling the models, so runs are reproducible.
	FromRNG  bool      `json:"from_rng"`
	Strategy *Strategy `json:"strategy,omitempty"`
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("execution request failed with status %d: %s", e.Code, e.Body)
}

// Client calls the execution service. It never retries.
type Client struct {
	baseURL     string
	executePath string
	httpClient  *http.Client
	timeout     time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. A nil client is
// ignored.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request, whatever the order of the options. Zero
// keeps the HTTP client's own timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithExecutePath overrides DefaultExecutePath.
func WithExecutePath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.executePath = path
		}
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		executePath: DefaultExecutePath,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		// Copy so a caller's client is left untouched.
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	if !strings.HasPrefix(c.executePath, "/") {
		c.executePath = "/" + c.executePath
	}
	return c
}

// Execute runs one request and returns the decoded result. A result that
// reports errors is not a Go error; inspect it with HasError and
// TaskErrors.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	id := uuid.New().String()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.executePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", id)

	timer := logging.StartTimer(logging.CategoryExecution, "execute "+id)
	defer timer.Stop()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response %s: %w", id, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.ExecutionDebug("request %s: status %d", id, resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	result, err := decodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("response %s: %w", id, err)
	}
	logging.ExecutionDebug("request %s: error=%t tasks_errors=%t", id, result.HasError(), result.TasksErrors)
	return result, nil
}
