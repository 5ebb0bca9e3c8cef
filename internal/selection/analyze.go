package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	language "github.com/hanpama/graphcache/internal/language"
)

// ErrMalformedQuery is returned when a document cannot be turned into a
// selection tree: syntax errors, a missing or ambiguous operation, unknown
// or cyclic fragments, and unbound variables.
var ErrMalformedQuery = errors.New("selection: malformed query")

// Descriptor is an analyzed operation: its canonical selection tree, the
// variables it was bound with, and a fingerprint of its shape.
type Descriptor struct {
	Operation           language.Operation
	Name                string
	Source              string
	Variables           map[string]any
	VariableDefinitions language.VariableDefinitionList
	Selections          SelectionSet

	// Canonical is the selection tree printed with sorted fields and
	// resolved argument values. Two descriptors with equal Canonical request
	// the same data.
	Canonical   string
	Fingerprint string
}

// IsMutation reports whether the descriptor is a mutation.
func (d *Descriptor) IsMutation() bool { return d.Operation == language.Mutation }

type analyzer struct {
	doc      *language.QueryDocument
	bound    map[string]any
	visiting map[string]bool
}

// Analyze parses source, picks the operation named operationName (or the
// only one) and binds variables.
func Analyze(source, operationName string, variables map[string]any) (*Descriptor, error) {
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	op := language.SelectOperation(doc, operationName)
	if op == nil {
		if operationName == "" {
			return nil, fmt.Errorf("%w: document must contain exactly one operation or name one", ErrMalformedQuery)
		}
		return nil, fmt.Errorf("%w: operation %q not found", ErrMalformedQuery, operationName)
	}
	if op.Operation == language.Subscription {
		return nil, fmt.Errorf("%w: subscription operations are not supported", ErrMalformedQuery)
	}

	a := &analyzer{doc: doc, visiting: make(map[string]bool)}
	if err := a.bind(op, variables); err != nil {
		return nil, err
	}
	sel, err := a.selectionSet(op.SelectionSet)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Operation:           op.Operation,
		Name:                op.Name,
		Source:              source,
		Variables:           a.bound,
		VariableDefinitions: op.VariableDefinitions,
		Selections:          sel,
	}
	d.Canonical = string(op.Operation) + Canonical(sel)
	d.Fingerprint = Fingerprint(d.Canonical)
	return d, nil
}

// Fingerprint hashes a canonical string into a short stable key.
func Fingerprint(canonical string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}

// bind resolves the value of every variable the operation defines. Nullable
// variables without a value or default are bound to null.
func (a *analyzer) bind(op *language.OperationDefinition, variables map[string]any) error {
	a.bound = make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		val, ok := variables[name]
		if !ok {
			val, ok = variables["$"+name]
		}
		if !ok {
			switch {
			case def.DefaultValue != nil:
				val = literalToGo(def.DefaultValue)
			case def.Type != nil && def.Type.NonNull:
				return fmt.Errorf("%w: variable $%s of required type %s was not provided", ErrMalformedQuery, name, def.Type.String())
			}
		}
		if val == nil && def.Type != nil && def.Type.NonNull {
			return fmt.Errorf("%w: variable $%s of type %s cannot be null", ErrMalformedQuery, name, def.Type.String())
		}
		a.bound[name] = val
	}
	return nil
}

func (a *analyzer) selectionSet(set language.SelectionSet) (SelectionSet, error) {
	out := make(SelectionSet, 0, len(set))
	for _, selection := range set {
		switch sel := selection.(type) {
		case *language.Field:
			ok, dirs, err := a.directives(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			n := &Node{Kind: KindField, Alias: sel.Alias, Name: sel.Name, Directives: dirs}
			if n.Alias == n.Name {
				n.Alias = ""
			}
			for _, arg := range sel.Arguments {
				v, err := a.resolveValue(arg.Value)
				if err != nil {
					return nil, err
				}
				n.Arguments = append(n.Arguments, Argument{Name: arg.Name, Value: arg.Value, Resolved: v})
			}
			n.storeKey = storeKey(n.Name, n.Arguments)
			if len(sel.SelectionSet) > 0 {
				if n.Selections, err = a.selectionSet(sel.SelectionSet); err != nil {
					return nil, err
				}
			}
			out = mergeField(out, n)

		case *language.InlineFragment:
			ok, dirs, err := a.directives(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			children, err := a.selectionSet(sel.SelectionSet)
			if err != nil {
				return nil, err
			}
			if sel.TypeCondition == "" && len(dirs) == 0 {
				for _, c := range children {
					out = mergeField(out, c)
				}
				continue
			}
			out = append(out, &Node{Kind: KindInlineFragment, TypeCondition: sel.TypeCondition, Directives: dirs, Selections: children})

		case *language.FragmentSpread:
			ok, dirs, err := a.directives(sel.Directives)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			def := a.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return nil, fmt.Errorf("%w: unknown fragment %q", ErrMalformedQuery, sel.Name)
			}
			if a.visiting[sel.Name] {
				return nil, fmt.Errorf("%w: fragment %q spreads itself", ErrMalformedQuery, sel.Name)
			}
			a.visiting[sel.Name] = true
			children, err := a.selectionSet(def.SelectionSet)
			a.visiting[sel.Name] = false
			if err != nil {
				return nil, err
			}
			out = append(out, &Node{Kind: KindInlineFragment, TypeCondition: def.TypeCondition, Directives: dirs, Selections: children})
		}
	}
	return out, nil
}

// directives evaluates @skip and @include and returns the remaining
// directives with their arguments resolved.
func (a *analyzer) directives(list language.DirectiveList) (bool, []Directive, error) {
	include := true
	var rest []Directive
	for _, d := range list {
		switch d.Name {
		case "skip", "include":
			cond, err := a.condition(d)
			if err != nil {
				return false, nil, err
			}
			if (d.Name == "skip") == cond {
				include = false
			}
		default:
			dir := Directive{Name: d.Name}
			for _, arg := range d.Arguments {
				v, err := a.resolveValue(arg.Value)
				if err != nil {
					return false, nil, err
				}
				dir.Arguments = append(dir.Arguments, Argument{Name: arg.Name, Value: arg.Value, Resolved: v})
			}
			rest = append(rest, dir)
		}
	}
	return include, rest, nil
}

func (a *analyzer) condition(d *language.Directive) (bool, error) {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false, fmt.Errorf("%w: @%s requires an \"if\" argument", ErrMalformedQuery, d.Name)
	}
	v, err := a.resolveValue(arg.Value)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: @%s(if:) must be a Boolean, got %T", ErrMalformedQuery, d.Name, v)
	}
	return b, nil
}

// mergeField appends n to set, folding it into an existing field with the
// same response key.
func mergeField(set SelectionSet, n *Node) SelectionSet {
	if n.Kind != KindField {
		return append(set, n)
	}
	key := n.ResponseKey()
	for _, existing := range set {
		if existing.Kind == KindField && existing.ResponseKey() == key {
			for _, c := range n.Selections {
				existing.Selections = mergeField(existing.Selections, c)
			}
			return set
		}
	}
	return append(set, n)
}

// Canonical prints set with fields sorted by response key and fragments
// sorted by type condition. Arguments print as canonical JSON.
func Canonical(set SelectionSet) string {
	var b strings.Builder
	writeCanonical(&b, set)
	return b.String()
}
