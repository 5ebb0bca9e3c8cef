package store

import (
	"strconv"
	"strings"

	selection "github.com/hanpama/graphcache/internal/selection"
)

type writer struct {
	tx       *Tx
	identify IDFunc
}

// writeObject stores every selected field present in obj on record id.
// Fields under inline fragments are written whenever the response carries
// them, whatever the type condition says.
func (w *writer) writeObject(id ID, set selection.SelectionSet, obj map[string]any) {
	w.tx.touch(id)
	for _, n := range set {
		if n.Kind != selection.KindField {
			w.writeObject(id, n.Selections, obj)
			continue
		}
		v, ok := obj[n.ResponseKey()]
		if !ok {
			continue
		}
		key := n.StoreKey()
		if m, ok := v.(map[string]any); ok && !n.IsLeaf() {
			w.tx.set(id, key, Ref{ID: w.object(id, key, n, m)})
			continue
		}
		w.tx.set(id, key, w.value(id, key, n, v))
	}
}

func (w *writer) value(parent ID, path string, n *selection.Node, v any) any {
	if n.IsLeaf() {
		return cloneValue(v)
	}
	switch x := v.(type) {
	case map[string]any:
		id, ok := w.identify(x)
		if !ok {
			id = syntheticID(parent, path)
		}
		w.writeObject(id, n.Selections, x)
		return Ref{ID: id}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = w.value(parent, path+"."+strconv.Itoa(i), n, e)
		}
		return out
	default:
		return cloneValue(v)
	}
}

// object writes a single object held directly by field key of parent. An
// object without identity is merged into the record the field already
// references, so a partial response joins the entity it was fetched for.
func (w *writer) object(parent ID, key string, n *selection.Node, obj map[string]any) ID {
	id, ok := w.identify(obj)
	if !ok {
		id = syntheticID(parent, key)
		if rec, found := w.tx.lookup(parent); found {
			if ref, isRef := rec[key].(Ref); isRef {
				id = ref.ID
			}
		}
	}
	w.writeObject(id, n.Selections, obj)
	return id
}

func syntheticID(parent ID, path string) ID {
	if strings.HasPrefix(string(parent), "$") {
		return parent + ID("."+path)
	}
	return ID("$" + string(parent) + "." + path)
}
