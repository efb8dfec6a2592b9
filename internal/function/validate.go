package function

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Violation is one failed rule, located by its JSON path.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// SchemaError reports every rule a definition breaks.
type SchemaError struct {
	Subject    string
	Violations []Violation
}

func (e *SchemaError) Error() string {
	return joinViolations("invalid "+e.Subject, e.Violations)
}

// InputValidationError reports where an input fails the function's input
// schema.
type InputValidationError struct {
	Violations []Violation
}

func (e *InputValidationError) Error() string {
	return joinViolations("input does not match input_schema", e.Violations)
}

func joinViolations(head string, vs []Violation) string {
	var sb strings.Builder
	sb.WriteString(head)
	for i, v := range vs {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(v.String())
	}
	return sb.String()
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterStructValidation(taskProfileLevel, TaskProfile{})
		validate = v
	})
	return validate
}

// taskProfileLevel requires one weight per ensemble member.
func taskProfileLevel(sl validator.StructLevel) {
	tp := sl.Current().Interface().(TaskProfile)
	if len(tp.Weights) != len(tp.Ensemble.LLMs) {
		sl.ReportError(tp.Weights, "profile", "Weights", "eqlen_llms", fmt.Sprint(len(tp.Ensemble.LLMs)))
	}
}

func fieldViolations(err error) []Violation {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Violation{{Message: err.Error()}}
	}
	out := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Violation{
			Path:    trimRoot(fe.Namespace()),
			Message: describeTag(fe),
		})
	}
	return out
}

// trimRoot drops the Go type name validator puts at the start of a path.
func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required for " + strings.TrimPrefix(fe.Param(), "Type ") + " tasks"
	case "required_unless":
		return "is required for function tasks"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		return "must have at least " + fe.Param() + " element(s)"
	case "gte":
		return "must be >= " + fe.Param()
	case "eqlen_llms":
		return "must have one weight per ensemble llm (" + fe.Param() + ")"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// ValidateFunction checks a function definition's shape and the rules that
// tie its fields together. It returns a *SchemaError listing every
// violation.
func ValidateFunction(fn *Function) error {
	if fn == nil {
		return &SchemaError{Subject: "function", Violations: []Violation{{Message: "function is missing"}}}
	}

	var vs []Violation
	if err := structValidator().Struct(fn); err != nil {
		vs = append(vs, fieldViolations(err)...)
	}

	if fn.Output == nil {
		vs = append(vs, Violation{Path: "output", Message: "is required"})
	}

	vectorFields := map[string]Expression{
		"output_length": fn.OutputLength,
		"input_split":   fn.InputSplit,
		"input_merge":   fn.InputMerge,
	}
	for _, name := range sortedKeys(vectorFields) {
		present := vectorFields[name] != nil
		switch {
		case fn.IsVector() && !present:
			vs = append(vs, Violation{Path: name, Message: "is required for vector functions"})
		case fn.Type == KindScalar && present:
			vs = append(vs, Violation{Path: name, Message: "is only allowed for vector functions"})
		}
	}

	for i, t := range fn.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if t.Map != nil && *t.Map >= len(fn.InputMaps) {
			vs = append(vs, Violation{
				Path:    path + ".map",
				Message: fmt.Sprintf("index %d out of range (%d input maps)", *t.Map, len(fn.InputMaps)),
			})
		}
		if t.Type != TaskVectorCompletion && t.Input == nil {
			vs = append(vs, Violation{Path: path + ".input", Message: "is required for function tasks"})
		}
	}

	if fn.InputSchema != nil {
		if _, err := compileSchema(fn.InputSchema); err != nil {
			vs = append(vs, Violation{Path: "input_schema", Message: err.Error()})
		}
	}

	vs = append(vs, expressionViolations(fn)...)

	if len(vs) > 0 {
		return &SchemaError{Subject: "function", Violations: vs}
	}
	return nil
}

// expressionViolations reports expression objects that do not compile.
func expressionViolations(fn *Function) []Violation {
	var vs []Violation
	check := func(path, src string) {
		if _, err := compileExpression(src); err != nil {
			vs = append(vs, Violation{Path: path, Message: err.Error()})
		}
	}

	for i, m := range fn.InputMaps {
		walkExpressions(m, fmt.Sprintf("input_maps[%d]", i), check)
	}
	for i, t := range fn.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		walkExpressions(t.Skip, path+".skip", check)
		walkExpressions(t.Messages, path+".messages", check)
		walkExpressions(t.Responses, path+".responses", check)
		walkExpressions(t.Tools, path+".tools", check)
		walkExpressions(t.Input, path+".input", check)
	}
	walkExpressions(fn.Output, "output", check)
	walkExpressions(fn.OutputLength, "output_length", check)
	walkExpressions(fn.InputSplit, "input_split", check)
	walkExpressions(fn.InputMerge, "input_merge", check)
	return vs
}

// ValidateProfile checks a profile definition's shape, including that every
// task has one weight per ensemble member.
func ValidateProfile(p *Profile) error {
	if p == nil {
		return &SchemaError{Subject: "profile", Violations: []Violation{{Message: "profile is missing"}}}
	}
	if err := structValidator().Struct(p); err != nil {
		return &SchemaError{Subject: "profile", Violations: fieldViolations(err)}
	}
	return nil
}

func sortedKeys(m map[string]Expression) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
