package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"

	diff "github.com/hanpama/graphcache/internal/diff"
	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	selection "github.com/hanpama/graphcache/internal/selection"
)

// State is the lifecycle state of a subscription.
type State int32

const (
	Idle State = iota
	Fetching
	HasData
	Refetching
	Unsubscribed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case HasData:
		return "has-data"
	case Refetching:
		return "refetching"
	case Unsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// WatchQueryOptions describes a watched query.
type WatchQueryOptions struct {
	Query         string
	OperationName string
	Variables     map[string]any
	// ForceFetch skips the cache for the first fetch of each subscription.
	ForceFetch bool
	// ReturnPartialData delivers incomplete results instead of waiting for
	// the first complete one.
	ReturnPartialData bool
	// PollInterval, when positive, refetches from the server periodically.
	PollInterval time.Duration
}

// QueryObservable is a watched query. Each Subscribe starts an independent
// watcher.
type QueryObservable struct {
	c    *Client
	desc *selection.Descriptor
	opts WatchQueryOptions
}

// WatchQuery analyzes a query for watching. Nothing is fetched until
// Subscribe.
func (c *Client) WatchQuery(opts WatchQueryOptions) (*QueryObservable, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	d, err := analyze(opts.Query, opts.OperationName, opts.Variables, false)
	if err != nil {
		return nil, err
	}
	return &QueryObservable{c: c, desc: d, opts: opts}, nil
}

// Subscribe starts watching. It does not block; the first result arrives
// through obs. On a closed client the subscription is already unsubscribed.
func (o *QueryObservable) Subscribe(obs Observer) *QuerySubscription {
	w := &watcher{
		id:   o.c.nextID.Add(1),
		c:    o.c,
		desc: o.desc,
		opts: o.opts,
		obs:  obs,
	}
	sub := &QuerySubscription{w: w}
	if !o.c.post(w.start) {
		w.unsubscribed.Store(true)
		w.state.Store(int32(Unsubscribed))
	}
	return sub
}

// QuerySubscription controls one watcher.
type QuerySubscription struct {
	w *watcher
}

// State returns the watcher's current state.
func (s *QuerySubscription) State() State { return State(s.w.state.Load()) }

// Refetch fetches the query from the server, bypassing the cache.
func (s *QuerySubscription) Refetch() {
	s.w.c.post(s.w.refetch)
}

// Unsubscribe stops delivery. No callback runs after it returns, except one
// already running on another goroutine. A fetch in flight is not cancelled
// and its result is still written to the cache.
func (s *QuerySubscription) Unsubscribe() {
	if s.w.unsubscribed.Swap(true) {
		return
	}
	s.w.state.Store(int32(Unsubscribed))
	s.w.c.post(s.w.remove)
}

// StartPolling refetches every d until StopPolling or Unsubscribe.
func (s *QuerySubscription) StartPolling(d time.Duration) {
	s.w.c.post(func() { s.w.startPolling(d) })
}

// StopPolling stops periodic refetching.
func (s *QuerySubscription) StopPolling() {
	s.w.c.post(s.w.stopPolling)
}

type watcher struct {
	id   uint64
	c    *Client
	desc *selection.Descriptor
	opts WatchQueryOptions
	obs  Observer

	state        atomic.Int32
	unsubscribed atomic.Bool

	// Owned by the dispatch goroutine.
	deps      *roaring.Bitmap
	last      *Result
	delivered bool
	hasData   bool
	inflight  int
	pollStop  chan struct{}
}

func (w *watcher) start() {
	if w.unsubscribed.Load() {
		return
	}
	c := w.c
	c.watchers = append(c.watchers, w)

	p := w.plan(w.opts.ForceFetch)
	if p.Read == nil {
		// A forced plan skips the read; the watcher still follows the store.
		w.deps = c.store.ReadQuery(w.desc).Deps
	} else {
		w.deps = p.Read.Deps
		eventbus.Publish(c.ctx, events.CacheResult{
			OperationName: w.desc.Name,
			Fingerprint:   w.desc.Fingerprint,
			Hit:           p.Hit(),
			MissingUnits:  len(p.Read.Missing),
		})
	}
	if p.Hit() {
		w.deliver(w.result(p.Read.Data, p.Read.Complete))
	} else {
		c.startFetch(p, w, nil)
		if p.Read != nil && w.opts.ReturnPartialData && len(p.Read.Data) > 0 {
			w.deliver(w.result(p.Read.Data, false))
		}
	}
	w.syncState()
	if w.opts.PollInterval > 0 {
		w.startPolling(w.opts.PollInterval)
	}
}

func (w *watcher) plan(force bool) *diff.Plan {
	return diff.Compute(w.desc, w.c.store, force)
}

func (w *watcher) read() *Result {
	res := w.c.store.ReadQuery(w.desc)
	w.deps = res.Deps
	return w.result(res.Data, res.Complete)
}

func (w *watcher) result(data map[string]any, complete bool) *Result {
	return &Result{Data: data, Partial: !complete, sel: w.desc.Selections}
}

func (w *watcher) deliver(res *Result) {
	w.last = res
	w.delivered = true
	if !res.Partial {
		w.hasData = true
	}
	w.syncState()
	w.obs.Next(res)
}

func (w *watcher) refetch() {
	if w.unsubscribed.Load() {
		return
	}
	w.c.startFetch(w.plan(true), w, nil)
}

func (w *watcher) remove() {
	w.stopPolling()
	ws := w.c.watchers
	for i, x := range ws {
		if x == w {
			w.c.watchers = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
}

func (w *watcher) startPolling(d time.Duration) {
	w.stopPolling()
	if d <= 0 || w.unsubscribed.Load() {
		return
	}
	stop := make(chan struct{})
	w.pollStop = stop
	c := w.c
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.post(w.refetch)
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

func (w *watcher) stopPolling() {
	if w.pollStop != nil {
		close(w.pollStop)
		w.pollStop = nil
	}
}

// syncState publishes the dispatch-owned state for State().
func (w *watcher) syncState() {
	var s State
	switch {
	case w.unsubscribed.Load():
		s = Unsubscribed
	case w.inflight > 0 && w.hasData:
		s = Refetching
	case w.inflight > 0:
		s = Fetching
	case w.hasData:
		s = HasData
	default:
		s = Idle
	}
	w.state.Store(int32(s))
}

// active returns the watchers still subscribed, in subscription order.
func (c *Client) active() []*watcher {
	out := make([]*watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		if !w.unsubscribed.Load() {
			out = append(out, w)
		}
	}
	return out
}
