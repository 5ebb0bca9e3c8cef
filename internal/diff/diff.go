// Package diff compares an operation against the cache and plans the
// smallest request that completes it.
package diff

import (
	selection "github.com/hanpama/graphcache/internal/selection"
	store "github.com/hanpama/graphcache/internal/store"
)

// Reader is the part of the store a plan reads from.
type Reader interface {
	ReadQuery(d *selection.Descriptor) *store.ReadResult
}

// Plan describes how to answer a query.
type Plan struct {
	Descriptor *selection.Descriptor
	// Read is the cache read the plan was derived from. It is nil for
	// forced fetches.
	Read *store.ReadResult

	// Query is the document to send and Variables its values. Both are empty
	// on a cache hit.
	Query     string
	Variables map[string]any
	// Selections is the selection set Query requests.
	Selections selection.SelectionSet

	full  bool
	units []store.Missing
}

// Hit reports whether the cache fully answers the query.
func (p *Plan) Hit() bool { return p.Query == "" }

// Full reports whether the plan sends the original document unchanged.
func (p *Plan) Full() bool { return p.full }

// Compute reads d from r and plans the request for whatever is missing.
// With force set the cache is not consulted and the whole operation is
// requested as written.
func Compute(d *selection.Descriptor, r Reader, force bool) *Plan {
	if force {
		return fullPlan(d, nil)
	}
	res := r.ReadQuery(d)
	p := &Plan{Descriptor: d, Read: res}
	if res.Complete {
		return p
	}
	p.units = res.Missing
	p.Selections = minimize(res.Missing)
	p.Variables = usedValues(d.Variables, p.Selections)
	p.Query = selection.Print(d.Operation, d.Name, d.VariableDefinitions, p.Selections)
	return p
}

func fullPlan(d *selection.Descriptor, res *store.ReadResult) *Plan {
	return &Plan{
		Descriptor: d,
		Read:       res,
		Query:      d.Source,
		Variables:  d.Variables,
		Selections: d.Selections,
		full:       true,
	}
}

// Merge writes the response to the plan's query into tx. Each missing unit
// is written onto the record it was found missing from.
func (p *Plan) Merge(tx *store.Tx, data map[string]any) {
	if p.full {
		tx.WriteQuery(p.Descriptor, data)
		return
	}
	root := store.RootFor(p.Descriptor)
	for _, m := range p.units {
		parent, ok := walk(data, m.Path[:len(m.Path)-1])
		if !ok {
			// An ancestor came back null or malformed; store the response as
			// it is so the null is recorded on the right parent.
			tx.Write(root, p.Selections, data)
			return
		}
		tx.Write(m.ParentID, selection.SelectionSet{m.Node}, parent)
	}
}

func walk(data map[string]any, path []string) (map[string]any, bool) {
	cur := data
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func usedValues(vars map[string]any, set selection.SelectionSet) map[string]any {
	used := selection.UsedVariables(set)
	if len(used) == 0 {
		return nil
	}
	out := make(map[string]any, len(used))
	for name := range used {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}
