package function

import (
	"encoding/json"
	"fmt"
)

// ExampleInput is one fixture: an input value, the tasks it is expected to
// compile to, and its expected output length (vector functions only).
type ExampleInput struct {
	Value         any
	CompiledTasks []CompiledTask
	OutputLength  *uint32
}

type exampleWire struct {
	Value         any               `json:"value"`
	CompiledTasks []json.RawMessage `json:"compiledTasks"`
	OutputLength  *uint32           `json:"outputLength"`
}

// UnmarshalJSON decodes an example and its compiled task tree. All three
// keys are required; outputLength may be null, compiledTasks may not.
func (e *ExampleInput) UnmarshalJSON(data []byte) error {
	if err := requireFields(data, true, "value", "outputLength"); err != nil {
		return err
	}
	if err := requireFields(data, false, "compiledTasks"); err != nil {
		return err
	}
	var w exampleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	tasks := make([]CompiledTask, len(w.CompiledTasks))
	for i, raw := range w.CompiledTasks {
		task, err := DecodeCompiledTask(raw)
		if err != nil {
			return fmt.Errorf("compiledTasks[%d]: %w", i, err)
		}
		tasks[i] = task
	}
	e.Value = w.Value
	e.CompiledTasks = tasks
	e.OutputLength = w.OutputLength
	return nil
}

// MarshalJSON encodes the example in the fixture file format.
func (e ExampleInput) MarshalJSON() ([]byte, error) {
	tasks := e.CompiledTasks
	if tasks == nil {
		tasks = []CompiledTask{}
	}
	return json.Marshal(struct {
		Value         any            `json:"value"`
		CompiledTasks []CompiledTask `json:"compiledTasks"`
		OutputLength  *uint32        `json:"outputLength"`
	}{e.Value, tasks, e.OutputLength})
}

// ValueString renders the example's input as compact JSON, for naming the
// example in reports.
func (e *ExampleInput) ValueString() string {
	data, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Sprintf("%v", e.Value)
	}
	return string(data)
}
