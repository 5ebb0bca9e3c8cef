package selection

import (
	"sort"
	"strings"

	language "github.com/hanpama/graphcache/internal/language"
)

func writeCanonical(b *strings.Builder, set SelectionSet) {
	sorted := make(SelectionSet, len(set))
	copy(sorted, set)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if a.Kind != c.Kind {
			return a.Kind < c.Kind
		}
		if a.Kind == KindField {
			if a.ResponseKey() != c.ResponseKey() {
				return a.ResponseKey() < c.ResponseKey()
			}
			return a.StoreKey() < c.StoreKey()
		}
		return a.TypeCondition < c.TypeCondition
	})

	b.WriteByte('{')
	for i, n := range sorted {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch n.Kind {
		case KindField:
			if n.Alias != "" && n.Alias != n.Name {
				b.WriteString(n.Alias)
				b.WriteByte(':')
			}
			b.WriteString(n.StoreKey())
		default:
			b.WriteString("...")
			if n.TypeCondition != "" {
				b.WriteString("on ")
				b.WriteString(n.TypeCondition)
			}
		}
		for _, d := range n.Directives {
			b.WriteByte('@')
			b.WriteString(storeKey(d.Name, d.Arguments))
		}
		if len(n.Selections) > 0 {
			writeCanonical(b, n.Selections)
		}
	}
	b.WriteByte('}')
}

// Print renders an operation in compact form for sending over the wire.
// Only the variable definitions referenced by set are declared. Anonymous
// queries without variables print as a bare selection set.
func Print(op language.Operation, name string, defs language.VariableDefinitionList, set SelectionSet) string {
	used := make(map[string]struct{})
	usedVariables(set, used)

	var b strings.Builder
	var declared []*language.VariableDefinition
	for _, def := range defs {
		if _, ok := used[def.Variable]; ok {
			declared = append(declared, def)
		}
	}
	if op != language.Query || name != "" || len(declared) > 0 {
		b.WriteString(string(op))
		if name != "" {
			b.WriteByte(' ')
			b.WriteString(name)
		}
		if len(declared) > 0 {
			b.WriteByte('(')
			for i, def := range declared {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteByte('$')
				b.WriteString(def.Variable)
				b.WriteByte(':')
				b.WriteString(def.Type.String())
				if def.DefaultValue != nil {
					b.WriteByte('=')
					b.WriteString(def.DefaultValue.String())
				}
			}
			b.WriteByte(')')
		}
	}
	writeCompact(&b, set)
	return b.String()
}

// UsedVariables returns the names of the variables referenced by set.
func UsedVariables(set SelectionSet) map[string]struct{} {
	used := make(map[string]struct{})
	usedVariables(set, used)
	return used
}

func usedVariables(set SelectionSet, used map[string]struct{}) {
	for _, n := range set {
		for _, a := range n.Arguments {
			collectVariables(a.Value, used)
		}
		for _, d := range n.Directives {
			for _, a := range d.Arguments {
				collectVariables(a.Value, used)
			}
		}
		usedVariables(n.Selections, used)
	}
}

func writeCompact(b *strings.Builder, set SelectionSet) {
	b.WriteByte('{')
	for i, n := range set {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch n.Kind {
		case KindField:
			if n.Alias != "" && n.Alias != n.Name {
				b.WriteString(n.Alias)
				b.WriteByte(':')
			}
			b.WriteString(n.Name)
			writeArguments(b, n.Arguments)
		default:
			b.WriteString("...")
			if n.TypeCondition != "" {
				b.WriteString("on ")
				b.WriteString(n.TypeCondition)
			}
		}
		for _, d := range n.Directives {
			b.WriteByte('@')
			b.WriteString(d.Name)
			writeArguments(b, d.Arguments)
		}
		if len(n.Selections) > 0 {
			writeCompact(b, n.Selections)
		}
	}
	b.WriteByte('}')
}

func writeArguments(b *strings.Builder, args []Argument) {
	if len(args) == 0 {
		return
	}
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Name)
		b.WriteByte(':')
		if a.Value != nil {
			b.WriteString(a.Value.String())
		} else {
			b.WriteString(canonicalJSON(a.Resolved))
		}
	}
	b.WriteByte(')')
}
