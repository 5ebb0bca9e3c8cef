package store

import (
	"encoding/json"
	"fmt"
)

// MarshalSnapshot encodes an extracted state as JSON. References are
// written as {"__ref": id}.
func MarshalSnapshot(snapshot map[ID]Record) ([]byte, error) {
	return json.Marshal(snapshot)
}

// UnmarshalSnapshot decodes a state produced by MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (map[ID]Record, error) {
	var raw map[ID]map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("store: decode snapshot: %w", err)
	}
	out := make(map[ID]Record, len(raw))
	for id, fields := range raw {
		rec := make(Record, len(fields))
		for k, v := range fields {
			rec[k] = decodeRefs(v)
		}
		out[id] = rec
	}
	return out, nil
}

func decodeRefs(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if id, ok := x["__ref"].(string); ok {
				return Ref{ID: ID(id)}
			}
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = decodeRefs(e)
		}
		return x
	default:
		return v
	}
}
