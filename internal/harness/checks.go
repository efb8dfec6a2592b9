package harness

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/execution"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// Check names, in run order.
const (
	CheckFunctionSchema      = "Function Schema Validation"
	CheckProfileSchema       = "Profile Schema Validation"
	CheckInputsSchema        = "Example Inputs Schema Validation"
	CheckInputsLength        = "Example Inputs Length Validation"
	CheckInputs              = "Example Inputs Validation"
	CheckCompiledTasks       = "Compiled Task Validation"
	CheckVectorFunction      = "Vector Function Validation"
	checkExecutionNameFormat = "%sFunction Execution Validation (%s Strategy)"
)

// ExecutionCheckName names the live execution check for a function kind and
// strategy, e.g. "Vector Function Execution Validation (SwissSystem Strategy)".
func ExecutionCheckName(kind function.Kind, strategy *execution.Strategy) string {
	prefix := ""
	switch kind {
	case function.KindScalar:
		prefix = "Scalar "
	case function.KindVector:
		prefix = "Vector "
	}
	return fmt.Sprintf(checkExecutionNameFormat, prefix, execution.StrategyName(strategy))
}

// ExampleError ties a failure to one example input.
type ExampleError struct {
	Index int
	Input string
	Err   error
}

func (e *ExampleError) Error() string {
	return fmt.Sprintf("example %d (input %s): %v", e.Index, e.Input, e.Err)
}

func (e *ExampleError) Unwrap() error { return e.Err }

// MismatchError reports a compiled task that differs from its fixture.
type MismatchError struct {
	Example  int
	Task     int
	Input    string
	Expected string
	Actual   string
	Diff     string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("example %d (input %s), task %d: compiled task does not match\nexpected: %s\nactual:   %s\ndiff (-expected +actual):\n%s",
		e.Example, e.Input, e.Task, e.Expected, e.Actual, e.Diff)
}

// ExecutionError reports an example whose live execution failed.
type ExecutionError struct {
	Input  string
	Err    error
	Detail string
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input %s: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("input %s: %s", e.Input, e.Detail)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Checks returns the checks for f in run order. The vector round-trip and
// the tournament execution checks only apply to vector functions.
func (h *Harness) Checks(f *Fixtures) []Check {
	checks := []Check{
		{CheckFunctionSchema, h.checkFunctionSchema(f)},
		{CheckProfileSchema, h.checkProfileSchema(f)},
		{CheckInputsSchema, h.checkInputsSchema(f)},
		{CheckInputsLength, h.checkInputsLength(f)},
		{CheckInputs, h.checkInputs(f)},
		{CheckCompiledTasks, h.checkCompiledTasks(f)},
	}

	var kind function.Kind
	if f.Function != nil && f.FunctionErr == nil {
		kind = f.Function.Type
	}
	if kind == function.KindVector {
		checks = append(checks, Check{CheckVectorFunction, h.checkVectorFunction(f)})
	}

	checks = append(checks, Check{ExecutionCheckName(kind, nil), h.checkExecution(f, nil)})
	if kind == function.KindVector {
		checks = append(checks, Check{ExecutionCheckName(kind, execution.SwissSystem), h.checkExecution(f, execution.SwissSystem)})
	}
	return checks
}

func violationErrors(err error) []error {
	var serr *function.SchemaError
	if !errors.As(err, &serr) {
		return []error{err}
	}
	out := make([]error, 0, len(serr.Violations))
	for _, v := range serr.Violations {
		out = append(out, errors.New(v.String()))
	}
	return out
}

func (h *Harness) checkFunctionSchema(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		fn, err := f.function()
		if err != nil {
			return []error{err}
		}
		if err := function.ValidateFunction(fn); err != nil {
			return violationErrors(err)
		}
		return nil
	}
}

func (h *Harness) checkProfileSchema(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		p, err := f.profile()
		if err != nil {
			return []error{err}
		}
		if err := function.ValidateProfile(p); err != nil {
			return violationErrors(err)
		}
		return nil
	}
}

func (h *Harness) checkInputsSchema(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		return splitErrors(f.InputsErr)
	}
}

func (h *Harness) checkInputsLength(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		inputs, err := f.inputs()
		if err != nil {
			return []error{unavailable("inputs", err)}
		}
		if n := len(inputs); n < h.opts.MinInputs || n > h.opts.MaxInputs {
			return []error{fmt.Errorf("expected between %d and %d example inputs, got %d", h.opts.MinInputs, h.opts.MaxInputs, n)}
		}
		return nil
	}
}

func (h *Harness) checkInputs(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		fn, inputs, err := functionAndInputs(f)
		if err != nil {
			return []error{err}
		}

		var errs []error
		for i := range inputs {
			ex := &inputs[i]
			fail := func(err error) {
				errs = append(errs, &ExampleError{Index: i, Input: ex.ValueString(), Err: err})
			}

			if err := h.compiler.ValidateInput(fn, ex.Value); err != nil {
				fail(err)
			}
			switch {
			case fn.IsVector() && ex.OutputLength == nil:
				fail(errors.New("vector function examples must have an outputLength"))
			case fn.IsVector() && *ex.OutputLength <= 1:
				fail(fmt.Errorf("outputLength must be greater than 1, got %d", *ex.OutputLength))
			case !fn.IsVector() && ex.OutputLength != nil:
				fail(fmt.Errorf("scalar function examples must have a null outputLength, got %d", *ex.OutputLength))
			}
		}
		return errs
	}
}

func (h *Harness) checkCompiledTasks(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		fn, inputs, err := functionAndInputs(f)
		if err != nil {
			return []error{err}
		}

		var errs []error
		for i := range inputs {
			ex := &inputs[i]
			input := ex.ValueString()

			tasks, err := h.compiler.CompileTasks(fn, ex.Value)
			if err != nil {
				errs = append(errs, &ExampleError{Index: i, Input: input, Err: fmt.Errorf("compile: %w", err)})
				continue
			}
			if len(tasks) != len(ex.CompiledTasks) {
				errs = append(errs, &ExampleError{Index: i, Input: input, Err: fmt.Errorf(
					"compiled %d tasks, expected %d\nexpected: %s\nactual:   %s",
					len(tasks), len(ex.CompiledTasks), function.MarshalTasks(ex.CompiledTasks), function.MarshalTasks(tasks))})
				continue
			}
			for j := range tasks {
				if function.Equal(ex.CompiledTasks[j], tasks[j]) {
					continue
				}
				errs = append(errs, &MismatchError{
					Example:  i,
					Task:     j,
					Input:    input,
					Expected: function.MarshalTask(ex.CompiledTasks[j]),
					Actual:   function.MarshalTask(tasks[j]),
					Diff:     function.Diff(ex.CompiledTasks[j], tasks[j]),
				})
			}
		}
		return errs
	}
}

// checkVectorFunction verifies the split/merge round trip of every example:
// the input splits into sub-inputs of output length 1, and merging them
// gives back an input with the expected output length.
func (h *Harness) checkVectorFunction(f *Fixtures) func(context.Context) []error {
	return func(context.Context) []error {
		fn, inputs, err := functionAndInputs(f)
		if err != nil {
			return []error{err}
		}

		var errs []error
		for i := range inputs {
			ex := &inputs[i]
			fail := func(format string, args ...any) {
				errs = append(errs, &ExampleError{Index: i, Input: ex.ValueString(), Err: fmt.Errorf(format, args...)})
			}

			n, err := h.compiler.OutputLength(fn, ex.Value)
			switch {
			case err != nil:
				fail("output length: %w", err)
			case n == nil:
				fail("output length is null")
			default:
				if ex.OutputLength == nil || uint32(*n) != *ex.OutputLength {
					fail("output length %d does not match expected %s", *n, formatLength(ex.OutputLength))
				}
				if *n <= 1 {
					fail("output length must be greater than 1, got %d", *n)
				}
			}

			split, err := h.compiler.InputSplit(fn, ex.Value)
			if err != nil {
				fail("input split: %w", err)
				continue
			}
			if split == nil {
				fail("input split returned null")
				continue
			}
			for j, sub := range split {
				n, err := h.compiler.OutputLength(fn, sub)
				switch {
				case err != nil:
					fail("split input %d: output length: %w", j, err)
				case n == nil:
					fail("split input %d: output length is null", j)
				case *n != 1:
					fail("split input %d: output length must be 1, got %d", j, *n)
				}
			}

			merged, err := h.compiler.InputMerge(fn, split)
			if err != nil {
				fail("input merge: %w", err)
				continue
			}
			if merged == nil {
				fail("input merge returned null")
				continue
			}
			mn, err := h.compiler.OutputLength(fn, merged)
			switch {
			case err != nil:
				fail("merged input: output length: %w", err)
			case mn == nil:
				fail("merged input: output length is null")
			case ex.OutputLength == nil || uint32(*mn) != *ex.OutputLength:
				fail("merged input: output length %d does not match expected %s", *mn, formatLength(ex.OutputLength))
			}
		}
		return errs
	}
}

func formatLength(n *uint32) string {
	if n == nil {
		return "null"
	}
	return fmt.Sprint(*n)
}

// checkExecution sends every example to the execution service at once and
// waits for all of them. A failed request never cancels the others.
func (h *Harness) checkExecution(f *Fixtures, strategy *execution.Strategy) func(context.Context) []error {
	return func(ctx context.Context) []error {
		fn, inputs, err := functionAndInputs(f)
		if err != nil {
			return []error{err}
		}
		p, err := f.profile()
		if err != nil {
			return []error{unavailable("profile", err)}
		}
		if h.executor == nil {
			return []error{errors.New("no execution service configured")}
		}

		outcomes := make([]error, len(inputs))
		var g errgroup.Group
		for i := range inputs {
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						outcomes[i] = &ExecutionError{Input: inputs[i].ValueString(), Err: fmt.Errorf("panic: %v", r)}
					}
				}()
				outcomes[i] = h.executeOne(ctx, fn, p, &inputs[i], strategy)
				return nil
			})
		}
		_ = g.Wait()

		var errs []error
		for _, err := range outcomes {
			if err != nil {
				errs = append(errs, err)
			}
		}
		return errs
	}
}

func (h *Harness) executeOne(ctx context.Context, fn *function.Function, p *function.Profile, ex *function.ExampleInput, strategy *execution.Strategy) error {
	input := ex.ValueString()
	resp, err := h.executor.Execute(ctx, &execution.Request{
		Input:    ex.Value,
		Function: fn,
		Profile:  p,
		FromRNG:  h.opts.FromRNG,
		Strategy: strategy,
	})
	if err != nil {
		return &ExecutionError{Input: input, Err: err}
	}
	if failure := resp.Failure(); failure != "" {
		logging.ExecutionDebug("input %s failed under %s strategy: %s", input, execution.StrategyName(strategy), failure)
		return &ExecutionError{Input: input, Detail: failure}
	}
	return nil
}

func functionAndInputs(f *Fixtures) (*function.Function, []function.ExampleInput, error) {
	fn, err := f.function()
	if err != nil {
		return nil, nil, unavailable("function", err)
	}
	inputs, err := f.inputs()
	if err != nil {
		return nil, nil, unavailable("inputs", err)
	}
	return fn, inputs, nil
}
