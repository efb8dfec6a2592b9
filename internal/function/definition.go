// Package function models ObjectiveAI function and profile definitions, the
// compiled task trees produced from them, and a local compiler that turns a
// function plus a concrete input into those trees.
//
// Definitions are authored as JSON. Any value inside a definition may be an
// expression object of the form {"$jmespath": "<expr>"}, which the compiler
// replaces with the result of evaluating the expression against the input.
package function

import (
	"encoding/json"
)

// Kind distinguishes scalar-valued from vector-valued functions.
type Kind string

const (
	KindScalar Kind = "scalar.function"
	KindVector Kind = "vector.function"
)

// Expression is a JSON value that may contain $jmespath expression objects.
type Expression = any

// Function is a remote function definition (function.json).
type Function struct {
	Type        Kind           `json:"type" validate:"required,oneof=scalar.function vector.function"`
	Description string         `json:"description" validate:"required"`
	Changelog   any            `json:"changelog"`
	InputSchema map[string]any `json:"input_schema" validate:"required"`

	// InputMaps are evaluated against the input; each must yield an array.
	// A task with Map set to i is compiled once per element of InputMaps[i].
	InputMaps []Expression `json:"input_maps"`

	Tasks  []TaskTemplate `json:"tasks" validate:"required,min=1,dive"`
	Output Expression     `json:"output"`

	// Vector functions only.
	OutputLength Expression `json:"output_length,omitempty"`
	InputSplit   Expression `json:"input_split,omitempty"`
	InputMerge   Expression `json:"input_merge,omitempty"`

	// raw is the document the definition was decoded from. It is what gets
	// sent to the execution service, so fields this package does not model
	// survive the trip.
	raw json.RawMessage
}

// TaskTemplate describes how an input produces one compiled task.
type TaskTemplate struct {
	Type TaskType   `json:"type" validate:"required,oneof=vector.completion scalar.function vector.function"`
	Skip Expression `json:"skip"`
	Map  *int       `json:"map" validate:"omitempty,min=0"`

	// vector.completion
	Messages  []Expression `json:"messages,omitempty" validate:"required_if=Type vector.completion"`
	Tools     Expression   `json:"tools,omitempty"`
	Responses []Expression `json:"responses,omitempty" validate:"required_if=Type vector.completion"`

	// scalar.function / vector.function
	Owner      string     `json:"owner,omitempty" validate:"required_unless=Type vector.completion"`
	Repository string     `json:"repository,omitempty" validate:"required_unless=Type vector.completion"`
	Commit     string     `json:"commit,omitempty" validate:"required_unless=Type vector.completion"`
	Input      Expression `json:"input,omitempty"`
}

type functionAlias Function

// UnmarshalJSON decodes the definition and keeps the original document.
func (f *Function) UnmarshalJSON(data []byte) error {
	var a functionAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*f = Function(a)
	f.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original document when there is one.
func (f *Function) MarshalJSON() ([]byte, error) {
	if len(f.raw) > 0 {
		return f.raw, nil
	}
	return json.Marshal((*functionAlias)(f))
}

// IsVector reports whether the function produces a vector output.
func (f *Function) IsVector() bool {
	return f.Type == KindVector
}

// Profile is a remote profile definition (profile.json): one ensemble and
// weight vector per task slot.
type Profile struct {
	Description string        `json:"description" validate:"required"`
	Changelog   any           `json:"changelog"`
	Tasks       []TaskProfile `json:"tasks" validate:"required,min=1,dive"`

	raw json.RawMessage
}

// TaskProfile pairs an ensemble with relative weights, one per LLM.
type TaskProfile struct {
	Ensemble Ensemble  `json:"ensemble"`
	Weights  []float64 `json:"profile" validate:"required,min=1,dive,gte=0"`
}

// Ensemble is the set of backend model configurations for one task.
type Ensemble struct {
	LLMs []LLM `json:"llms" validate:"required,min=1,dive"`
}

// LLM is one ensemble member. Fields other than model and output_mode are
// passed to the service untouched through the raw profile document.
type LLM struct {
	Model      string `json:"model" validate:"required"`
	OutputMode string `json:"output_mode" validate:"required,oneof=instruction json_schema tool_call"`
}

type profileAlias Profile

// UnmarshalJSON decodes the profile and keeps the original document.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var a profileAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Profile(a)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original document when there is one.
func (p *Profile) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal((*profileAlias)(p))
}
