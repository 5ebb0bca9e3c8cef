package selection

import (
	"bytes"
	"encoding/json"
	"sort"
)

// MarshalOrdered encodes data as JSON with object keys in the order set
// selects them. Keys the selection does not mention follow in sorted order.
func MarshalOrdered(set SelectionSet, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeOrdered(&buf, set, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type orderedKey struct {
	key string
	sel SelectionSet
}

func encodeOrdered(buf *bytes.Buffer, set SelectionSet, v any) error {
	switch x := v.(type) {
	case map[string]any:
		if len(set) == 0 {
			return encodeJSON(buf, x)
		}
		keys := responseKeys(set, nil)
		seen := make(map[string]bool, len(keys))
		buf.WriteByte('{')
		first := true
		write := func(k string, sel SelectionSet) error {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := encodeJSON(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			return encodeOrdered(buf, sel, x[k])
		}
		for _, k := range keys {
			if _, ok := x[k.key]; !ok || seen[k.key] {
				continue
			}
			seen[k.key] = true
			if err := write(k.key, k.sel); err != nil {
				return err
			}
		}
		var rest []string
		for k := range x {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		for _, k := range rest {
			if err := write(k, nil); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeOrdered(buf, set, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		return encodeJSON(buf, x)
	}
}

// responseKeys flattens set (through fragments) into response keys in
// selection order, merging the sub-selections of repeated keys.
func responseKeys(set SelectionSet, out []orderedKey) []orderedKey {
	for _, n := range set {
		if n.Kind != KindField {
			out = responseKeys(n.Selections, out)
			continue
		}
		key := n.ResponseKey()
		merged := false
		for i := range out {
			if out[i].key == key {
				out[i].sel = append(out[i].sel, n.Selections...)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, orderedKey{key: key, sel: append(SelectionSet(nil), n.Selections...)})
		}
	}
	return out
}

func encodeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
