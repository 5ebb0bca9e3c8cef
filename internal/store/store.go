// Package store implements the normalized cache: a flat table of entity
// records keyed by identity, written from query results and read back into
// denormalized results.
//
// # State
//
// The table is an immutable map replaced on every commit; unchanged records
// are shared between generations. Readers always see one whole generation.
// The externally visible generation (the composite) is the base state with
// every optimistic layer's field deltas applied in insertion order. A layer
// keeps the update that produced it and is rebuilt from it whenever the
// state below it changes.
//
// # Commits
//
// Writes are staged in a Tx opened on the base and published by Commit, or
// by Settle, which also removes a layer in the same step. PushLayer runs an
// update against the composite and keeps its writes as a new layer. Every commit returns a Change: the identities whose
// composite record actually differs afterwards. Watchers intersect a Change
// with the dependency set of their last read to decide whether to re-read.
//
// # Identities
//
// Objects that carry __typename and id are stored under "Type:id"; others
// under a synthetic path identity derived from their parent. Synthetic
// identities start with "$".
package store

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	selection "github.com/hanpama/graphcache/internal/selection"
)

// ID identifies a record.
type ID string

const (
	RootQuery    ID = "ROOT_QUERY"
	RootMutation ID = "ROOT_MUTATION"
)

// Ref is a stored reference to another record.
type Ref struct {
	ID ID `json:"__ref"`
}

// Record maps store keys to values: JSON scalars, Ref, []any of those, or
// opaque JSON values of leaf fields.
type Record map[string]any

// IDFunc derives the identity of a result object. It returns false when the
// object has no identity of its own.
type IDFunc func(obj map[string]any) (ID, bool)

// DefaultID identifies objects carrying both __typename and a string or
// numeric id.
func DefaultID(obj map[string]any) (ID, bool) {
	typename, ok := obj["__typename"].(string)
	if !ok || typename == "" {
		return "", false
	}
	switch id := obj["id"].(type) {
	case string:
		if id == "" {
			return "", false
		}
		return ID(typename + ":" + id), true
	case float64, int, int64, int32:
		return ID(fmt.Sprintf("%s:%v", typename, id)), true
	default:
		return "", false
	}
}

// Options configures a Store.
type Options struct {
	// IDFunc identifies result objects. Defaults to DefaultID.
	IDFunc IDFunc
	// Logger receives consistency warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithIDFunc sets the function deriving record identities.
func WithIDFunc(f IDFunc) Option { return func(o *Options) { o.IDFunc = f } }

// WithLogger sets the logger for consistency warnings.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// Store is safe for concurrent use, although the client only touches it
// from its dispatch goroutine.
type Store struct {
	opt Options
	ids *interner

	mu     sync.RWMutex
	base   state
	layers []layer
	view   state
}

// New creates an empty store.
func New(opts ...Option) *Store {
	o := Options{IDFunc: DefaultID, Logger: slog.Default()}
	for _, f := range opts {
		f(&o)
	}
	if o.IDFunc == nil {
		o.IDFunc = DefaultID
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Store{opt: o, ids: newInterner(), base: state{}, view: state{}}
}

func (s *Store) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Read denormalizes set starting at rootID against the composite state.
func (s *Store) Read(rootID ID, set selection.SelectionSet) *ReadResult {
	view := s.snapshot()
	res := read(view.lookup, s.ids, rootID, set)
	s.report(res)
	return res
}

// ReadQuery reads the descriptor's selections from its operation root.
func (s *Store) ReadQuery(d *selection.Descriptor) *ReadResult {
	return s.Read(RootFor(d), d.Selections)
}

// RootFor returns the root record identity of an operation.
func RootFor(d *selection.Descriptor) ID {
	if d.IsMutation() {
		return RootMutation
	}
	return RootQuery
}

// Write normalizes data into the base state and commits it.
func (s *Store) Write(rootID ID, set selection.SelectionSet, data map[string]any) Change {
	tx := s.Begin()
	tx.Write(rootID, set, data)
	return s.Commit(tx)
}

// Begin starts a transaction over the base state. Optimistic layers are
// not visible to it, so nothing optimistic can be copied into the base.
func (s *Store) Begin() *Tx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newTx(s.base)
}

func (s *Store) newTx(view state) *Tx {
	return &Tx{store: s, view: view, delta: make(map[ID]Record)}
}

// Commit applies tx to the base state. Optimistic layers are replayed over
// the new base.
func (s *Store) Commit(tx *Tx) Change {
	return s.settle("", false, tx)
}

// PushLayer runs update over the composite state and publishes its writes
// as an optimistic layer named id on top of the existing layers. The base
// state is untouched. update is kept and run again, against the new state
// below the layer, whenever the base or a lower layer changes; it must only
// use the Tx it is given.
func (s *Store) PushLayer(id string, update func(*Tx) error) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.view
	tx := s.newTx(s.view)
	if err := update(tx); err != nil {
		return Change{}, err
	}
	s.layers = append(s.layers, layer{id: id, update: update, delta: tx.delta})
	s.view = s.view.apply(tx.delta)
	return s.changed(old, s.view, keysOf(tx.delta)), nil
}

// RemoveLayer drops the optimistic layer named id. The layers above it are
// replayed in their original order over what remains below.
func (s *Store) RemoveLayer(id string) Change {
	return s.settle(id, true, nil)
}

// Settle drops the optimistic layer named id (if any) and commits tx (if
// not nil) to the base as a single change.
func (s *Store) Settle(id string, tx *Tx) Change {
	return s.settle(id, true, tx)
}

func (s *Store) settle(id string, drop bool, tx *Tx) Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.view
	candidates := s.layerKeys()
	if drop {
		for i, l := range s.layers {
			if l.id == id {
				s.layers = append(s.layers[:i:i], s.layers[i+1:]...)
				break
			}
		}
	}
	if tx != nil {
		s.base = s.base.apply(tx.delta)
		candidates = append(candidates, keysOf(tx.delta)...)
	}
	s.replay()
	candidates = append(candidates, s.layerKeys()...)
	return s.changed(old, s.view, candidates)
}

// replay rebuilds every layer, bottom first, by running its update against
// the base plus the layers below it. A layer whose update now fails is kept
// with no writes.
func (s *Store) replay() {
	view := s.base
	for i := range s.layers {
		l := &s.layers[i]
		tx := s.newTx(view)
		if err := l.update(tx); err != nil {
			s.opt.Logger.Warn("optimistic update replay failed", "layer", l.id, "err", err)
			tx.delta = make(map[ID]Record)
		}
		l.delta = tx.delta
		view = view.apply(l.delta)
	}
	s.view = view
}

func (s *Store) layerKeys() []ID {
	var out []ID
	for _, l := range s.layers {
		out = append(out, keysOf(l.delta)...)
	}
	return out
}

// Layers returns the ids of pending optimistic layers, bottom first.
func (s *Store) Layers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.id
	}
	return out
}

// Reset drops every record and every optimistic layer.
func (s *Store) Reset() Change {
	return s.Restore(nil)
}

// Restore replaces the base state with snapshot and drops every optimistic
// layer.
func (s *Store) Restore(snapshot map[ID]Record) Change {
	next := make(state, len(snapshot))
	for id, rec := range snapshot {
		next[id] = cloneRecord(rec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.view
	s.base = next
	s.layers = nil
	s.view = next
	candidates := keysOf(old)
	candidates = append(candidates, keysOf(next)...)
	return s.changed(old, s.view, candidates)
}

// Extract returns a deep copy of the composite state.
func (s *Store) Extract() map[ID]Record {
	view := s.snapshot()
	out := make(map[ID]Record, len(view))
	for id, rec := range view {
		out[id] = cloneRecord(rec)
	}
	return out
}

// Record returns a copy of the composite record for id.
func (s *Store) Record(id ID) (Record, bool) {
	rec, ok := s.snapshot()[id]
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

func (s *Store) changed(old, next state, candidates []ID) Change {
	seen := make(map[ID]struct{}, len(candidates))
	var ids []ID
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		a, inOld := old[id]
		b, inNext := next[id]
		if inOld != inNext || !reflect.DeepEqual(a, b) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return newChange(s.ids, ids)
}

func (s *Store) report(res *ReadResult) {
	for _, e := range res.Inconsistencies {
		s.opt.Logger.Warn("store inconsistency", "id", string(e.ID), "path", strings.Join(e.Path, "."))
		eventbus.Publish(context.Background(), events.StoreInconsistency{ID: string(e.ID), Path: e.Path})
	}
}

// ConsistencyError reports a reference to a record that is not in the
// table. It indicates a bug in whatever produced the reference, not an
// ordinary cache miss.
type ConsistencyError struct {
	ID   ID
	Path []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("store: dangling reference to %q at %s", e.ID, strings.Join(e.Path, "."))
}
