package execution

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Response is the part of an execution result the sandbox inspects. Raw
// keeps the full body.
type Response struct {
	// Error is the top-level error object, or nil.
	Error json.RawMessage
	// TasksErrors is set when any task in the tree failed.
	TasksErrors bool
	Raw         []byte
}

func decodeResponse(data []byte) (*Response, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON body: %.200s", data)
	}
	var wire struct {
		Error       json.RawMessage `json:"error"`
		TasksErrors *bool           `json:"tasks_errors"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}

	r := &Response{Raw: data}
	if len(wire.Error) > 0 && !bytes.Equal(bytes.TrimSpace(wire.Error), []byte("null")) {
		r.Error = wire.Error
	}
	if wire.TasksErrors != nil {
		r.TasksErrors = *wire.TasksErrors
	}
	return r, nil
}

// HasError reports whether the execution failed as a whole.
func (r *Response) HasError() bool {
	return len(r.Error) > 0
}

// ErrorMessage describes the top-level error, preferring its message field.
func (r *Response) ErrorMessage() string {
	if !r.HasError() {
		return ""
	}
	if msg := gjson.GetBytes(r.Error, "message"); msg.Exists() {
		if code := gjson.GetBytes(r.Error, "code"); code.Exists() {
			return fmt.Sprintf("%s (code %s)", msg.String(), code.Raw)
		}
		return msg.String()
	}
	return string(r.Error)
}

// TaskErrors collects the errors of every task in the result tree, with a
// path naming the task, e.g. "tasks[0].tasks[2]".
func (r *Response) TaskErrors() []string {
	var out []string
	collectTaskErrors(gjson.GetBytes(r.Raw, "tasks"), "tasks", &out)
	return out
}

func collectTaskErrors(tasks gjson.Result, path string, out *[]string) {
	if !tasks.IsArray() {
		return
	}
	for i, task := range tasks.Array() {
		p := fmt.Sprintf("%s[%d]", path, i)
		if e := task.Get("error"); e.Exists() && e.Type != gjson.Null {
			msg := e.Get("message")
			if msg.Exists() {
				*out = append(*out, p+": "+msg.String())
			} else {
				*out = append(*out, p+": "+e.Raw)
			}
		}
		collectTaskErrors(task.Get("tasks"), p+".tasks", out)
	}
}

// Failure describes everything wrong with the result, or "" when it
// succeeded.
func (r *Response) Failure() string {
	var buf bytes.Buffer
	if r.HasError() {
		fmt.Fprintf(&buf, "error: %s", r.ErrorMessage())
	}
	if r.TasksErrors {
		if buf.Len() > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString("tasks_errors")
		if errs := r.TaskErrors(); len(errs) > 0 {
			fmt.Fprintf(&buf, ": %v", errs)
		}
	}
	return buf.String()
}
