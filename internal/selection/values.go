package selection

import (
	"fmt"
	"sort"
	"strconv"

	language "github.com/hanpama/graphcache/internal/language"
)

// resolveValue converts an AST literal into a Go value, substituting bound
// variables.
func (a *analyzer) resolveValue(value *language.Value) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch value.Kind {
	case language.Variable:
		v, ok := a.bound[value.Raw]
		if !ok {
			return nil, fmt.Errorf("%w: variable $%s is not bound", ErrMalformedQuery, value.Raw)
		}
		return v, nil
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			v, err := a.resolveValue(c.Value)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			v, err := a.resolveValue(c.Value)
			if err != nil {
				return nil, err
			}
			m[c.Name] = v
		}
		return m, nil
	default:
		return literalToGo(value), nil
	}
}

// literalToGo converts a constant AST value into a Go value.
func literalToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		if iv, err := strconv.Atoi(value.Raw); err == nil {
			return iv
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = literalToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			m[c.Name] = literalToGo(c.Value)
		}
		return m
	default:
		return nil
	}
}

// collectVariables adds the names of variables referenced by value to seen.
func collectVariables(value *language.Value, seen map[string]struct{}) {
	if value == nil {
		return
	}
	if value.Kind == language.Variable {
		seen[value.Raw] = struct{}{}
		return
	}
	for _, c := range value.Children {
		collectVariables(c.Value, seen)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
