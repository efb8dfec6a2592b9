// Package harness validates a function, its profile and its example inputs.
//
// A run is a fixed, ordered list of named checks. Every check runs
// regardless of how the previous ones went; each collects all of its
// failures rather than stopping at the first, and the run reports the
// outcome of every check at the end.
package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/execution"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
)

// Compiler compiles functions locally. *function.Compiler implements it.
type Compiler interface {
	CompileTasks(fn *function.Function, input any) ([]function.CompiledTask, error)
	OutputLength(fn *function.Function, input any) (*int, error)
	InputSplit(fn *function.Function, input any) ([]any, error)
	InputMerge(fn *function.Function, inputs []any) (any, error)
	ValidateInput(fn *function.Function, input any) error
}

// Executor runs a function on the execution service. *execution.Client
// implements it.
type Executor interface {
	Execute(ctx context.Context, req *execution.Request) (*execution.Response, error)
}

// Options tunes a run.
type Options struct {
	// MinInputs and MaxInputs bound the number of example inputs.
	MinInputs int
	MaxInputs int
	// FromRNG asks the service for seeded votes instead of model calls.
	FromRNG bool
}

// DefaultOptions returns the standard bounds: 10 to 100 examples, seeded
// execution.
func DefaultOptions() Options {
	return Options{MinInputs: 10, MaxInputs: 100, FromRNG: true}
}

// Check is one named validation step. Run returns every failure it found.
type Check struct {
	Name string
	Run  func(ctx context.Context) []error
}

// Harness runs the checks against one set of fixtures.
type Harness struct {
	compiler Compiler
	executor Executor
	opts     Options
}

// New creates a harness.
func New(compiler Compiler, executor Executor, opts Options) *Harness {
	return &Harness{compiler: compiler, executor: executor, opts: opts}
}

// Run executes every check in order and reports all of them.
func (h *Harness) Run(ctx context.Context, f *Fixtures) *Report {
	timer := logging.StartTimer(logging.CategoryHarness, "validation run")
	report := &Report{Passed: true}

	for _, check := range h.Checks(f) {
		result := runCheck(ctx, check)
		if !result.Passed {
			report.Passed = false
		}
		report.Checks = append(report.Checks, result)
	}

	logging.Harness("%d/%d checks passed", report.PassedCount(), len(report.Checks))
	report.Duration = timer.StopWithInfo()
	return report
}

func runCheck(ctx context.Context, check Check) (result CheckResult) {
	start := time.Now()
	result.Name = check.Name
	logging.HarnessDebug("running check %q", check.Name)

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryHarness).Errorf("check %q panicked: %v\n%s", check.Name, r, debug.Stack())
			result.Failures = append(result.Failures, fmt.Sprintf("panic: %v", r))
		}
		result.Passed = len(result.Failures) == 0
		result.Duration = time.Since(start)
		if result.Passed {
			logging.Harness("%s: PASSED (%v)", check.Name, result.Duration)
		} else {
			logging.Harness("%s: FAILED with %d failure(s)", check.Name, len(result.Failures))
		}
	}()

	for _, err := range check.Run(ctx) {
		if err != nil {
			result.Failures = append(result.Failures, err.Error())
		}
	}
	return result
}

// splitErrors flattens an errors.Join result into its parts.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// ErrFixtureUnavailable marks a check that could not run because a fixture
// failed to load.
var ErrFixtureUnavailable = errors.New("fixture unavailable")

func unavailable(name string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrFixtureUnavailable, name, cause)
}
