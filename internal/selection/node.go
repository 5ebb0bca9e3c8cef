// Package selection turns GraphQL operation text plus variable bindings into
// a canonical selection tree (Descriptor) that the store and the diff engine
// walk. Variables are substituted, @skip/@include are evaluated and fragment
// spreads are inlined, so downstream code never sees variables, conditional
// directives or named fragments.
package selection

import (
	"encoding/json"
	"fmt"
	"strings"

	language "github.com/hanpama/graphcache/internal/language"
)

// Kind tags a Node.
type Kind uint8

const (
	// KindField is a field. It is a leaf when it has no selections; otherwise
	// it is an object or a list of objects, which only the data can tell.
	KindField Kind = iota
	// KindInlineFragment groups selections under an optional type condition.
	// Resolved fragment spreads also end up as inline fragments.
	KindInlineFragment
	// KindFragmentSpread only exists in raw documents; Analyze never emits it.
	KindFragmentSpread
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "Field"
	case KindInlineFragment:
		return "InlineFragment"
	case KindFragmentSpread:
		return "FragmentSpread"
	default:
		return "Unknown"
	}
}

// Argument keeps both the literal as written (for printing outgoing
// requests) and the value with variables substituted (for store keys).
type Argument struct {
	Name     string
	Value    *language.Value
	Resolved any
}

// Directive is any directive other than @skip and @include.
type Directive struct {
	Name      string
	Arguments []Argument
}

// Node is one selection in a canonical selection tree.
type Node struct {
	Kind          Kind
	Alias         string
	Name          string
	Arguments     []Argument
	Directives    []Directive
	TypeCondition string
	Selections    SelectionSet

	storeKey string
}

// SelectionSet is an ordered list of selections. Order is the order the
// fields were written in and is the order results are delivered in.
type SelectionSet []*Node

// ResponseKey is the key the field has in a response object.
func (n *Node) ResponseKey() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// StoreKey is the key the field has in a normalized record: the field name
// qualified by its resolved arguments. Aliases do not participate.
func (n *Node) StoreKey() string {
	if n.storeKey != "" {
		return n.storeKey
	}
	return storeKey(n.Name, n.Arguments)
}

// IsLeaf reports whether the field selects a scalar (or an opaque value).
func (n *Node) IsLeaf() bool {
	return n.Kind == KindField && len(n.Selections) == 0
}

// ArgumentMap returns the resolved arguments keyed by name.
func (n *Node) ArgumentMap() map[string]any {
	m := make(map[string]any, len(n.Arguments))
	for _, a := range n.Arguments {
		m[a.Name] = a.Resolved
	}
	return m
}

func storeKey(name string, args []Argument) string {
	if len(args) == 0 {
		return name
	}
	m := make(map[string]any, len(args))
	for _, a := range args {
		m[a.Name] = a.Resolved
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	b.WriteString(canonicalJSON(m))
	b.WriteByte(')')
	return b.String()
}

// canonicalJSON encodes v with object keys sorted. Values that cannot be
// encoded fall back to their Go syntax so keys stay deterministic.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// Field builds a field node. It is mostly useful for tests and for callers
// assembling selections by hand.
func Field(name string, children ...*Node) *Node {
	return &Node{Kind: KindField, Name: name, Selections: children}
}

// WithArgs returns n with resolved arguments set from args. Raw literals are
// left empty, so nodes built this way print their resolved values.
func (n *Node) WithArgs(args map[string]any) *Node {
	n.Arguments = n.Arguments[:0]
	for _, k := range sortedKeys(args) {
		n.Arguments = append(n.Arguments, Argument{Name: k, Resolved: args[k]})
	}
	n.storeKey = storeKey(n.Name, n.Arguments)
	return n
}

// As sets the alias of n.
func (n *Node) As(alias string) *Node {
	n.Alias = alias
	return n
}

// Fragment builds an inline fragment node.
func Fragment(typeCondition string, children ...*Node) *Node {
	return &Node{Kind: KindInlineFragment, TypeCondition: typeCondition, Selections: children}
}
