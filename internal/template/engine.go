package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"conductor/internal/model"
)

// Engine renders instance parameters into element properties. Placeholders
// have the form {{ name }} or {{ .name }}. A string that is exactly one
// placeholder is replaced by the parameter value itself, keeping its type;
// placeholders inside longer strings are replaced by their text form.
type Engine struct {
	pattern *regexp.Regexp
	whole   *regexp.Regexp
}

// NewEngine creates a property engine.
func NewEngine() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`),
		whole:   regexp.MustCompile(`^\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}$`),
	}
}

// Render returns a copy of props with every placeholder replaced from params.
// All missing parameters are reported together.
func (e *Engine) Render(props model.Properties, params map[string]interface{}) (model.Properties, error) {
	if props == nil {
		return nil, nil
	}
	if missing := e.Missing(props, params); len(missing) > 0 {
		return nil, fmt.Errorf("missing template parameters: %s", strings.Join(missing, ", "))
	}
	out, err := e.render(map[string]interface{}(props), params)
	if err != nil {
		return nil, err
	}
	return model.Properties(out.(map[string]interface{})), nil
}

func (e *Engine) render(value interface{}, params map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if m := e.whole.FindStringSubmatch(v); m != nil {
			return params[m[1]], nil
		}
		return e.pattern.ReplaceAllStringFunc(v, func(ph string) string {
			name := e.pattern.FindStringSubmatch(ph)[1]
			return stringify(params[name])
		}), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			r, err := e.render(val, params)
			if err != nil {
				return nil, fmt.Errorf("error in key '%s': %w", key, err)
			}
			out[key] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			r, err := e.render(val, params)
			if err != nil {
				return nil, fmt.Errorf("error at index %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

func stringify(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case float64:
		// JSON and YAML decode every number as float64.
		if r == float64(int64(r)) {
			return fmt.Sprintf("%d", int64(r))
		}
		return fmt.Sprintf("%g", r)
	default:
		return fmt.Sprintf("%v", r)
	}
}

// Variables returns the sorted parameter names referenced by value.
func (e *Engine) Variables(value interface{}) []string {
	seen := make(map[string]bool)
	e.collect(value, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) collect(value interface{}, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, m := range e.pattern.FindAllStringSubmatch(v, -1) {
			seen[m[1]] = true
		}
	case model.Properties:
		e.collect(map[string]interface{}(v), seen)
	case map[string]interface{}:
		for _, val := range v {
			e.collect(val, seen)
		}
	case []interface{}:
		for _, val := range v {
			e.collect(val, seen)
		}
	}
}

// Missing returns the sorted parameter names referenced by value but absent
// from params.
func (e *Engine) Missing(value interface{}, params map[string]interface{}) []string {
	var missing []string
	for _, name := range e.Variables(value) {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// MergeParameters merges parameter sets; later sets override earlier ones.
func MergeParameters(sets ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, set := range sets {
		for key, value := range set {
			result[key] = value
		}
	}
	return result
}
