package store

import selection "github.com/hanpama/graphcache/internal/selection"

// Tx stages writes against the state it was opened on: the base for Begin,
// the state below the layer for an optimistic update. Reads through a Tx
// observe its own pending writes. A Tx is not safe for
// concurrent use.
type Tx struct {
	store *Store
	view  state
	delta map[ID]Record
}

// Write normalizes data, the result of set evaluated at rootID.
func (tx *Tx) Write(rootID ID, set selection.SelectionSet, data map[string]any) {
	w := writer{tx: tx, identify: tx.store.opt.IDFunc}
	w.writeObject(rootID, set, data)
}

// WriteQuery writes a full operation result at the operation's root.
func (tx *Tx) WriteQuery(d *selection.Descriptor, data map[string]any) {
	tx.Write(RootFor(d), d.Selections, data)
}

// Merge sets raw fields on the record id. Values must already be in stored
// form (Ref for references).
func (tx *Tx) Merge(id ID, fields Record) {
	for k, v := range fields {
		tx.set(id, k, cloneValue(v))
	}
}

// Record returns a copy of the record id as seen by this transaction.
func (tx *Tx) Record(id ID) (Record, bool) {
	rec, ok := tx.lookup(id)
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

// Read denormalizes set at rootID as seen by this transaction.
func (tx *Tx) Read(rootID ID, set selection.SelectionSet) *ReadResult {
	res := read(tx.lookup, tx.store.ids, rootID, set)
	tx.store.report(res)
	return res
}

// ReadQuery reads the descriptor's selections from its operation root.
func (tx *Tx) ReadQuery(d *selection.Descriptor) *ReadResult {
	return tx.Read(RootFor(d), d.Selections)
}

// Empty reports whether the transaction holds no writes.
func (tx *Tx) Empty() bool { return len(tx.delta) == 0 }

func (tx *Tx) lookup(id ID) (Record, bool) {
	base, inView := tx.view[id]
	fields, inDelta := tx.delta[id]
	switch {
	case inDelta && inView:
		return mergeRecord(base, fields), true
	case inDelta:
		return fields, true
	default:
		return base, inView
	}
}

func (tx *Tx) set(id ID, key string, v any) {
	rec, ok := tx.delta[id]
	if !ok {
		rec = make(Record)
		tx.delta[id] = rec
	}
	rec[key] = v
}

// touch makes sure id exists even when it receives no fields.
func (tx *Tx) touch(id ID) {
	if _, ok := tx.delta[id]; !ok {
		tx.delta[id] = make(Record)
	}
}
