package function

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// Compiler errors.
var (
	ErrNotVector     = errors.New("function is not a vector function")
	ErrInvalidResult = errors.New("expression produced an invalid result")
)

// Compiler turns a function definition plus a concrete input into compiled
// tasks and evaluates the vector helper expressions. It is safe for
// concurrent use.
type Compiler struct {
	schemas sync.Map // *Function -> *gojsonschema.Schema
}

// NewCompiler creates a compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// CompileTasks compiles every task template of fn against input, in order.
// Skipped templates compile to nil; mapped templates compile to a
// TaskSequence with one entry per element of their input map.
func (c *Compiler) CompileTasks(fn *Function, input any) ([]CompiledTask, error) {
	timer := logging.StartTimer(logging.CategoryCompiler, "compile tasks")
	defer timer.Stop()

	ctx := inputContext(input)

	tasks := make([]CompiledTask, 0, len(fn.Tasks))
	for i := range fn.Tasks {
		task, err := c.compileTemplate(fn, &fn.Tasks[i], ctx)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (c *Compiler) compileTemplate(fn *Function, tmpl *TaskTemplate, ctx map[string]any) (CompiledTask, error) {
	skip, err := evaluateSkip(tmpl.Skip, ctx)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}

	if tmpl.Map == nil {
		return compileOne(tmpl, ctx)
	}

	idx := *tmpl.Map
	if idx < 0 || idx >= len(fn.InputMaps) {
		return nil, fmt.Errorf("map index %d out of range (%d input maps)", idx, len(fn.InputMaps))
	}
	elems, err := Evaluate(fn.InputMaps[idx], ctx)
	if err != nil {
		return nil, fmt.Errorf("input_maps[%d]: %w", idx, err)
	}
	list, ok := elems.([]any)
	if !ok && elems != nil {
		return nil, fmt.Errorf("input_maps[%d]: %w: expected array, got %T", idx, ErrInvalidResult, elems)
	}

	seq := make(TaskSequence, 0, len(list))
	for j, elem := range list {
		mapped := map[string]any{"input": ctx["input"], "map": elem}
		task, err := compileOne(tmpl, mapped)
		if err != nil {
			return nil, fmt.Errorf("map element %d: %w", j, err)
		}
		seq = append(seq, task)
	}
	return seq, nil
}

func evaluateSkip(expr Expression, ctx map[string]any) (bool, error) {
	if expr == nil {
		return false, nil
	}
	v, err := Evaluate(expr, ctx)
	if err != nil {
		return false, fmt.Errorf("skip: %w", err)
	}
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	}
	return false, fmt.Errorf("skip: %w: expected boolean, got %T", ErrInvalidResult, v)
}

func compileOne(tmpl *TaskTemplate, ctx map[string]any) (CompiledTask, error) {
	switch tmpl.Type {
	case TaskVectorCompletion:
		messages, err := evaluateList(tmpl.Messages, ctx)
		if err != nil {
			return nil, fmt.Errorf("messages: %w", err)
		}
		responses, err := evaluateList(tmpl.Responses, ctx)
		if err != nil {
			return nil, fmt.Errorf("responses: %w", err)
		}
		task := &VectorCompletionTask{Messages: messages, Responses: responses}
		if tmpl.Tools != nil {
			tools, err := Evaluate(tmpl.Tools, ctx)
			if err != nil {
				return nil, fmt.Errorf("tools: %w", err)
			}
			switch t := tools.(type) {
			case nil:
			case []any:
				task.Tools = t
			default:
				return nil, fmt.Errorf("tools: %w: expected array, got %T", ErrInvalidResult, tools)
			}
		}
		return task, nil

	case TaskScalarFunction, TaskVectorFunction:
		in, err := Evaluate(tmpl.Input, ctx)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		return &FunctionTask{
			Type:       tmpl.Type,
			Owner:      tmpl.Owner,
			Repository: tmpl.Repository,
			Commit:     tmpl.Commit,
			Input:      in,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, tmpl.Type)
}

func evaluateList(exprs []Expression, ctx map[string]any) ([]any, error) {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		v, err := Evaluate(e, ctx)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// OutputLength evaluates the output length of a vector function for input.
// Scalar functions have no output length and return nil.
func (c *Compiler) OutputLength(fn *Function, input any) (*int, error) {
	if !fn.IsVector() || fn.OutputLength == nil {
		return nil, nil
	}
	v, err := Evaluate(fn.OutputLength, inputContext(input))
	if err != nil {
		return nil, fmt.Errorf("output_length: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil, fmt.Errorf("output_length: %w: %v is not a non-negative integer", ErrInvalidResult, v)
	}
	n := int(f)
	return &n, nil
}

// InputSplit splits a vector function's input into sub-inputs that each
// produce a single output. A nil result means the input could not be split.
func (c *Compiler) InputSplit(fn *Function, input any) ([]any, error) {
	if !fn.IsVector() {
		return nil, ErrNotVector
	}
	if fn.InputSplit == nil {
		return nil, nil
	}
	v, err := Evaluate(fn.InputSplit, inputContext(input))
	if err != nil {
		return nil, fmt.Errorf("input_split: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	}
	return nil, fmt.Errorf("input_split: %w: expected array, got %T", ErrInvalidResult, v)
}

// InputMerge recombines split sub-inputs into one input. A nil result means
// the sub-inputs could not be merged.
func (c *Compiler) InputMerge(fn *Function, inputs []any) (any, error) {
	if !fn.IsVector() {
		return nil, ErrNotVector
	}
	if fn.InputMerge == nil {
		return nil, nil
	}
	if inputs == nil {
		inputs = []any{}
	}
	v, err := Evaluate(fn.InputMerge, inputContext(inputs))
	if err != nil {
		return nil, fmt.Errorf("input_merge: %w", err)
	}
	return v, nil
}

// ValidateInput checks input against the function's input schema.
func (c *Compiler) ValidateInput(fn *Function, input any) error {
	schema, err := c.schema(fn)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(jsonValue(input)))
	if err != nil {
		return fmt.Errorf("validate input: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &InputValidationError{}
	for _, re := range result.Errors() {
		verr.Violations = append(verr.Violations, Violation{
			Path:    re.Field(),
			Message: re.Description(),
		})
	}
	return verr
}

func (c *Compiler) schema(fn *Function) (*gojsonschema.Schema, error) {
	if s, ok := c.schemas.Load(fn); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := compileSchema(fn.InputSchema)
	if err != nil {
		return nil, err
	}
	c.schemas.Store(fn, s)
	return s, nil
}

func compileSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	if schema == nil {
		return nil, errors.New("input_schema is missing")
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid input_schema: %w", err)
	}
	return s, nil
}
