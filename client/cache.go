package client

import store "github.com/hanpama/graphcache/internal/store"

// Cache types used by optimistic updaters, update functions and snapshots.
type (
	Tx     = store.Tx
	ID     = store.ID
	Record = store.Record
	Ref    = store.Ref
)

const (
	RootQuery    = store.RootQuery
	RootMutation = store.RootMutation
)

// MarshalSnapshot encodes a state returned by Client.Extract.
func MarshalSnapshot(snapshot map[ID]Record) ([]byte, error) { return store.MarshalSnapshot(snapshot) }

// UnmarshalSnapshot decodes a state encoded by MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (map[ID]Record, error) { return store.UnmarshalSnapshot(b) }
