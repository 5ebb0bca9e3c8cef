package diff

import (
	selection "github.com/hanpama/graphcache/internal/selection"
	store "github.com/hanpama/graphcache/internal/store"
)

// branch collects the units requested below one ancestor node.
type branch struct {
	node     *selection.Node
	unit     bool
	children []*branch
	index    map[*selection.Node]*branch
}

func (b *branch) child(n *selection.Node) *branch {
	if c, ok := b.index[n]; ok {
		return c
	}
	c := &branch{node: n, index: make(map[*selection.Node]*branch)}
	b.index[n] = c
	b.children = append(b.children, c)
	return c
}

// minimize builds a selection set holding each unit with the chain of
// ancestors leading to it. Ancestors shared by several units appear once.
func minimize(units []store.Missing) selection.SelectionSet {
	root := &branch{index: make(map[*selection.Node]*branch)}
	for _, m := range units {
		b := root
		for _, a := range m.Ancestors {
			b = b.child(a)
		}
		b.child(m.Node).unit = true
	}
	return root.build()
}

func (b *branch) build() selection.SelectionSet {
	out := make(selection.SelectionSet, 0, len(b.children))
	for _, c := range b.children {
		if c.unit {
			out = append(out, c.node)
			continue
		}
		n := *c.node
		n.Selections = c.build()
		out = append(out, &n)
	}
	return out
}
