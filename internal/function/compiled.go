package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// TaskType tags the object variants of a compiled task.
type TaskType string

const (
	TaskVectorCompletion TaskType = "vector.completion"
	TaskScalarFunction   TaskType = "scalar.function"
	TaskVectorFunction   TaskType = "vector.function"
)

// Decoding errors.
var (
	// ErrUnknownTaskType is returned when a compiled task carries an
	// unrecognized type tag.
	ErrUnknownTaskType = errors.New("unknown compiled task type")
	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing required field")
)

// CompiledTask is the result of compiling one task template against an
// input. It is a closed sum type with the variants:
//
//   - nil: the task was skipped (JSON null)
//   - *VectorCompletionTask: a leaf execution unit
//   - *FunctionTask: a reference to another function
//   - TaskSequence: the ordered tasks of a mapped template
type CompiledTask interface {
	compiledTask()
}

// VectorCompletionTask is a leaf execution unit: a prompt, the candidate
// responses the ensemble votes over, and optional tools. Values are kept as
// decoded JSON.
type VectorCompletionTask struct {
	Messages  []any
	Responses []any
	// Tools is nil when absent. A present but empty list is a distinct value.
	Tools []any
}

// FunctionTask references another function by identity, with the input it
// is called with.
type FunctionTask struct {
	Type       TaskType
	Owner      string
	Repository string
	Commit     string
	Input      any
}

// TaskSequence is the ordered output of a mapped task template.
type TaskSequence []CompiledTask

func (*VectorCompletionTask) compiledTask() {}
func (*FunctionTask) compiledTask()         {}
func (TaskSequence) compiledTask()          {}

type vectorCompletionWire struct {
	Type      TaskType `json:"type"`
	Messages  []any    `json:"messages"`
	Responses []any    `json:"responses"`
	Tools     *[]any   `json:"tools,omitempty"`
}

// MarshalJSON encodes the task with its type tag.
func (t *VectorCompletionTask) MarshalJSON() ([]byte, error) {
	w := vectorCompletionWire{
		Type:      TaskVectorCompletion,
		Messages:  t.Messages,
		Responses: t.Responses,
	}
	if t.Tools != nil {
		tools := t.Tools
		w.Tools = &tools
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged vector completion task. Messages and
// responses must be present and non-null.
func (t *VectorCompletionTask) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, false, "messages", "responses"); err != nil {
		return err
	}
	var w vectorCompletionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != TaskVectorCompletion {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, w.Type)
	}
	t.Messages = w.Messages
	t.Responses = w.Responses
	t.Tools = nil
	if w.Tools != nil {
		t.Tools = *w.Tools
		if t.Tools == nil {
			t.Tools = []any{}
		}
	}
	return nil
}

type functionTaskWire struct {
	Type       TaskType `json:"type"`
	Owner      string   `json:"owner"`
	Repository string   `json:"repository"`
	Commit     string   `json:"commit"`
	Input      any      `json:"input"`
}

// MarshalJSON encodes the task with its type tag.
func (t *FunctionTask) MarshalJSON() ([]byte, error) {
	return json.Marshal(functionTaskWire(*t))
}

// UnmarshalJSON decodes a tagged function reference. The identity fields
// must be non-empty strings; input must be present but may be null.
func (t *FunctionTask) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, false, "owner", "repository", "commit"); err != nil {
		return err
	}
	if err := requireFields(data, true, "input"); err != nil {
		return err
	}
	var w functionTaskWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != TaskScalarFunction && w.Type != TaskVectorFunction {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, w.Type)
	}
	for _, f := range [...]struct{ name, value string }{
		{"owner", w.Owner}, {"repository", w.Repository}, {"commit", w.Commit},
	} {
		if f.value == "" {
			return fmt.Errorf("%s must not be empty", f.name)
		}
	}
	*t = FunctionTask(w)
	return nil
}

// DecodeCompiledTask decodes one compiled task, dispatching on the JSON
// shape: null, array (sequence) or tagged object.
func DecodeCompiledTask(data []byte) (CompiledTask, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty compiled task")
	}

	switch data[0] {
	case 'n':
		if !bytes.Equal(data, []byte("null")) {
			return nil, fmt.Errorf("invalid compiled task %q", data)
		}
		return nil, nil

	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
		seq := make(TaskSequence, len(raws))
		for i, raw := range raws {
			task, err := DecodeCompiledTask(raw)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq[i] = task
		}
		return seq, nil

	case '{':
		var head struct {
			Type TaskType `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, err
		}
		switch head.Type {
		case TaskVectorCompletion:
			t := &VectorCompletionTask{}
			if err := json.Unmarshal(data, t); err != nil {
				return nil, err
			}
			return t, nil
		case TaskScalarFunction, TaskVectorFunction:
			t := &FunctionTask{}
			if err := json.Unmarshal(data, t); err != nil {
				return nil, err
			}
			return t, nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, head.Type)
		}
	}

	return nil, fmt.Errorf("invalid compiled task %q", truncate(data, 40))
}

// DecodeCompiledTasks decodes the top-level list of compiled tasks.
func DecodeCompiledTasks(data []byte) ([]CompiledTask, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("compiled tasks must be an array: %w", err)
	}
	tasks := make([]CompiledTask, len(raws))
	for i, raw := range raws {
		task, err := DecodeCompiledTask(raw)
		if err != nil {
			return nil, fmt.Errorf("compiled task %d: %w", i, err)
		}
		tasks[i] = task
	}
	return tasks, nil
}

// Equal reports whether two compiled tasks are structurally equivalent.
// Variants never equal each other, sequences compare element-wise in order,
// and leaf values compare by their canonical JSON value.
func Equal(a, b CompiledTask) bool {
	switch at := a.(type) {
	case nil:
		return b == nil

	case TaskSequence:
		bt, ok := b.(TaskSequence)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bt[i]) {
				return false
			}
		}
		return true

	case *VectorCompletionTask:
		bt, ok := b.(*VectorCompletionTask)
		if !ok {
			return false
		}
		if at == nil || bt == nil {
			return at == bt
		}
		return valuesEqual(at.Messages, bt.Messages) &&
			valuesEqual(at.Responses, bt.Responses) &&
			toolsEqual(at.Tools, bt.Tools)

	case *FunctionTask:
		bt, ok := b.(*FunctionTask)
		if !ok {
			return false
		}
		if at == nil || bt == nil {
			return at == bt
		}
		return at.Type == bt.Type &&
			at.Owner == bt.Owner &&
			at.Repository == bt.Repository &&
			at.Commit == bt.Commit &&
			valuesEqual(at.Input, bt.Input)
	}
	return false
}

// toolsEqual treats an absent tool list as different from an empty one.
func toolsEqual(a, b []any) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	ca, err := canonical(a)
	if err != nil {
		return false
	}
	cb, err := canonical(b)
	if err != nil {
		return false
	}
	return cmp.Equal(ca, cb)
}

// canonical round-trips v through JSON so numeric and container types are
// uniform (float64, []any, map[string]any) regardless of where v came from.
func canonical(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Diff renders a (-expected +actual) diff of two compiled tasks.
func Diff(expected, actual CompiledTask) string {
	ce, err := canonical(expected)
	if err != nil {
		return fmt.Sprintf("cannot diff expected task: %v", err)
	}
	ca, err := canonical(actual)
	if err != nil {
		return fmt.Sprintf("cannot diff actual task: %v", err)
	}
	return cmp.Diff(ce, ca)
}

// MarshalTask serializes a compiled task for reports. It never fails; an
// encoding error is rendered in place of the task.
func MarshalTask(t CompiledTask) string {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Sprintf("<unencodable task: %v>", err)
	}
	return string(data)
}

// MarshalTasks serializes a list of compiled tasks for reports.
func MarshalTasks(tasks []CompiledTask) string {
	if tasks == nil {
		tasks = []CompiledTask{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Sprintf("<unencodable tasks: %v>", err)
	}
	return string(data)
}

// requireFields checks that the JSON object in data has every key. Unless
// nullable, a key holding null counts as missing.
func requireFields(data []byte, nullable bool, keys ...string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	var missing []string
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok || (!nullable && isNull(raw)) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
