package store

import (
	"github.com/RoaringBitmap/roaring"

	selection "github.com/hanpama/graphcache/internal/selection"
)

// ReadResult is the outcome of denormalizing a selection set.
type ReadResult struct {
	// Data holds every field that could be resolved. Missing fields are
	// absent; an incomplete object or list is present with what was found.
	Data     map[string]any
	Complete bool
	// Missing lists the smallest self-contained units to fetch, in
	// selection order.
	Missing []Missing
	// Deps holds the interned identities of every record the read touched,
	// including records that were absent.
	Deps            *roaring.Bitmap
	Inconsistencies []*ConsistencyError
}

// Missing is one unit of data the cache cannot answer. Node is a field
// selected on record ParentID; fetching it from the operation root through
// Ancestors and writing the result back onto ParentID fills the gap.
//
// A field missing directly on the read root is its own unit. Anything
// missing below an object field makes that whole field the unit, and
// anything missing anywhere under a list makes the outermost list field the
// unit.
type Missing struct {
	ParentID ID
	// Path holds the response keys from the root to Node, inclusive.
	Path []string
	// Ancestors holds the field and inline fragment nodes enclosing Node,
	// outermost first.
	Ancestors selection.SelectionSet
	Node      *selection.Node
}

type frame struct {
	path  []string
	chain selection.SelectionSet
}

func (f frame) field(key string) frame {
	path := make([]string, len(f.path)+1)
	copy(path, f.path)
	path[len(f.path)] = key
	return frame{path: path, chain: f.chain}
}

func (f frame) enter(n *selection.Node) frame {
	chain := make(selection.SelectionSet, len(f.chain)+1)
	copy(chain, f.chain)
	chain[len(f.chain)] = n
	return frame{path: f.path, chain: chain}
}

type reader struct {
	lookup func(ID) (Record, bool)
	ids    *interner
	res    *ReadResult
	// optional is non-zero while reading a fragment whose type condition
	// does not match the record.
	optional int
}

func read(lookup func(ID) (Record, bool), ids *interner, rootID ID, set selection.SelectionSet) *ReadResult {
	r := &reader{
		lookup: lookup,
		ids:    ids,
		res:    &ReadResult{Data: map[string]any{}, Deps: roaring.New()},
	}
	r.depend(rootID)
	rec, _ := lookup(rootID)
	r.readSet(rootID, rec, set, r.res.Data, frame{}, true, false)
	r.res.Complete = len(r.res.Missing) == 0
	return r.res
}

func (r *reader) depend(id ID) { r.res.Deps.Add(r.ids.intern(id)) }

// readSet reads set from rec into out. It reports whether something under
// a non-root object was missing, leaving the caller to record the unit.
func (r *reader) readSet(id ID, rec Record, set selection.SelectionSet, out map[string]any, f frame, root, inList bool) (escalate bool) {
	typename, _ := rec["__typename"].(string)
	for _, n := range set {
		if n.Kind != selection.KindField {
			matches := n.TypeCondition == "" || typename == "" || typename == n.TypeCondition
			if !matches {
				r.optional++
			}
			if r.readSet(id, rec, n.Selections, out, f.enter(n), root, inList) && matches {
				escalate = true
			}
			if !matches {
				r.optional--
			}
			continue
		}
		key := n.ResponseKey()
		v, ok := rec[n.StoreKey()]
		if !ok {
			switch {
			case r.optional > 0:
			case root:
				r.miss(id, f.field(key), n)
			default:
				escalate = true
			}
			continue
		}
		if n.IsLeaf() {
			out[key] = cloneValue(v)
			continue
		}
		val, esc := r.readValue(id, n, v, f.field(key), inList)
		out[key] = val
		if esc && r.optional == 0 {
			escalate = true
		}
	}
	return escalate
}

func (r *reader) readValue(parent ID, n *selection.Node, v any, f frame, inList bool) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case Ref:
		r.depend(x.ID)
		rec, ok := r.lookup(x.ID)
		if !ok {
			if r.optional == 0 {
				r.res.Inconsistencies = append(r.res.Inconsistencies, &ConsistencyError{ID: x.ID, Path: f.path})
			}
			return r.unit(parent, f, n, inList, nil)
		}
		obj := make(map[string]any)
		if r.readSet(x.ID, rec, n.Selections, obj, f.enter(n), false, inList) {
			return r.unit(parent, f, n, inList, obj)
		}
		return obj, false
	case []any:
		out := make([]any, len(x))
		escalate := false
		for i, e := range x {
			val, esc := r.readValue(parent, n, e, f, true)
			out[i] = val
			if esc {
				escalate = true
			}
		}
		if escalate {
			return r.unit(parent, f, n, inList, out)
		}
		return out, false
	default:
		return cloneValue(v), false
	}
}

// unit records n as a missing unit unless it sits inside a list, in which
// case the enclosing list field becomes the unit.
func (r *reader) unit(parent ID, f frame, n *selection.Node, inList bool, partial any) (any, bool) {
	if inList {
		return partial, true
	}
	r.miss(parent, f, n)
	return partial, false
}

func (r *reader) miss(parent ID, f frame, n *selection.Node) {
	if r.optional > 0 {
		return
	}
	r.res.Missing = append(r.res.Missing, Missing{
		ParentID:  parent,
		Path:      f.path,
		Ancestors: f.chain,
		Node:      n,
	})
}
