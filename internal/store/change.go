package store

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// interner assigns dense integers to identities so that dependency and
// change sets can be held in bitmaps. Numbers are never reused.
type interner struct {
	mu   sync.Mutex
	ids  map[ID]uint32
	next uint32
}

func newInterner() *interner { return &interner{ids: make(map[ID]uint32)} }

func (in *interner) intern(id ID) uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	n, ok := in.ids[id]
	if !ok {
		n = in.next
		in.next++
		in.ids[id] = n
	}
	return n
}

// Change is the set of identities whose composite record differs after a
// commit.
type Change struct {
	IDs  []ID
	bits *roaring.Bitmap
}

func newChange(in *interner, ids []ID) Change {
	bits := roaring.New()
	for _, id := range ids {
		bits.Add(in.intern(id))
	}
	return Change{IDs: ids, bits: bits}
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool { return len(c.IDs) == 0 }

// Affects reports whether the change touches any of deps.
func (c Change) Affects(deps *roaring.Bitmap) bool {
	if c.bits == nil || deps == nil {
		return false
	}
	return c.bits.Intersects(deps)
}

// Union merges two changes.
func (c Change) Union(o Change) Change {
	switch {
	case o.Empty():
		return c
	case c.Empty():
		return o
	}
	seen := make(map[ID]struct{}, len(c.IDs))
	ids := append([]ID(nil), c.IDs...)
	for _, id := range c.IDs {
		seen[id] = struct{}{}
	}
	for _, id := range o.IDs {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return Change{IDs: ids, bits: roaring.Or(c.bits, o.bits)}
}
