package function

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// ExpressionKey marks an expression object.
const ExpressionKey = "$jmespath"

var programCache sync.Map // string -> *jmespath.JMESPath

func compileExpression(src string) (*jmespath.JMESPath, error) {
	if p, ok := programCache.Load(src); ok {
		return p.(*jmespath.JMESPath), nil
	}
	p, err := jmespath.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	programCache.Store(src, p)
	return p, nil
}

// expressionSource returns the expression text if v is an expression object.
func expressionSource(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	src, ok := m[ExpressionKey].(string)
	return src, ok
}

// Evaluate resolves every expression object inside v against ctx. Literal
// values are returned unchanged; containers are rebuilt with their
// elements evaluated.
func Evaluate(v any, ctx map[string]any) (any, error) {
	if src, ok := expressionSource(v); ok {
		p, err := compileExpression(src)
		if err != nil {
			return nil, err
		}
		out, err := p.Search(ctx)
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", src, err)
		}
		return normalize(out), nil
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			ev, err := Evaluate(elem, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			ev, err := Evaluate(elem, ctx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	}
	return v, nil
}

// normalize maps a search result back onto plain decoded-JSON types.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return v
	case int:
		return float64(t)
	}
	if c, err := canonical(v); err == nil {
		return c
	}
	return v
}

// inputContext builds the evaluation context for an input.
func inputContext(input any) map[string]any {
	return map[string]any{"input": jsonValue(input)}
}

// jsonValue converts typed Go values into decoded-JSON form so expressions
// see the same shapes they would see on the wire.
func jsonValue(v any) any {
	switch v.(type) {
	case nil, bool, string, float64, map[string]any, []any:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// walkExpressions calls fn with the source of every expression object in v,
// and the JSON path where it was found.
func walkExpressions(v any, path string, fn func(path, src string)) {
	if src, ok := expressionSource(v); ok {
		fn(path, src)
		return
	}
	switch t := v.(type) {
	case map[string]any:
		for k, elem := range t {
			walkExpressions(elem, path+"."+k, fn)
		}
	case []any:
		for i, elem := range t {
			walkExpressions(elem, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
