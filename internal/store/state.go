package store

// state is one generation of the table. A published state is never mutated;
// apply returns a new map that shares untouched records.
type state map[ID]Record

func (s state) lookup(id ID) (Record, bool) {
	rec, ok := s[id]
	return rec, ok
}

// apply returns a new state with each delta record merged field by field
// over the existing one.
func (s state) apply(delta map[ID]Record) state {
	if len(delta) == 0 {
		return s
	}
	next := make(state, len(s)+len(delta))
	for id, rec := range s {
		next[id] = rec
	}
	for id, fields := range delta {
		next[id] = mergeRecord(next[id], fields)
	}
	return next
}

type layer struct {
	id     string
	update func(*Tx) error
	delta  map[ID]Record
}

func mergeRecord(old, fields Record) Record {
	out := make(Record, len(old)+len(fields))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func keysOf[M ~map[ID]V, V any](m M) []ID {
	out := make([]ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func cloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
