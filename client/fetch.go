package client

import (
	"context"
	"reflect"
	"time"

	diff "github.com/hanpama/graphcache/internal/diff"
	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	reqid "github.com/hanpama/graphcache/internal/reqid"
	store "github.com/hanpama/graphcache/internal/store"
	transport "github.com/hanpama/graphcache/transport"
)

// fetch is one transport call shared by every caller that asked for the
// same data while it was in flight.
type fetch struct {
	key      string
	plan     *diff.Plan
	watchers []*watcher
	queries  []*pendingQuery
}

type pendingQuery struct {
	plan *diff.Plan
	done chan queryOutcome
}

type queryOutcome struct {
	res *Result
	err error
}

func fetchKey(p *diff.Plan) string {
	mode := "diff"
	if p.Full() {
		mode = "full"
	}
	return p.Descriptor.Fingerprint + "|" + mode + "|" + p.Query
}

// startFetch sends plan, or joins an identical request already in flight.
// Runs on the dispatch goroutine.
func (c *Client) startFetch(p *diff.Plan, w *watcher, q *pendingQuery) {
	key := fetchKey(p)
	f, joined := c.inflight[key]
	if !joined {
		f = &fetch{key: key, plan: p}
		c.inflight[key] = f
	}
	if w != nil && !containsWatcher(f.watchers, w) {
		f.watchers = append(f.watchers, w)
		w.inflight++
		w.syncState()
	}
	if q != nil {
		f.queries = append(f.queries, q)
	}
	if joined {
		return
	}

	ctx := c.ctx
	var cancel context.CancelFunc = func() {}
	if c.opt.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opt.RequestTimeout)
	}
	ctx, _ = reqid.NewContext(ctx)
	req := &transport.Request{Query: p.Query, OperationName: p.Descriptor.Name, Variables: p.Variables}
	go func() {
		defer cancel()
		resp, err := c.execute(ctx, req, "query", p.Full())
		c.post(func() { c.finishFetch(f, resp, err) })
	}()
}

// execute calls the transport, publishing start and finish events. A nil
// response without an error is reported as ErrEmptyResponse.
func (c *Client) execute(ctx context.Context, req *transport.Request, opType string, full bool) (*transport.Response, error) {
	eventbus.Publish(ctx, events.FetchStart{OperationName: req.OperationName, OperationType: opType, Query: req.Query, Full: full})
	start := time.Now()
	resp, err := c.tr.Execute(ctx, req)
	if err == nil && resp == nil {
		err = transport.ErrEmptyResponse
	}
	finish := events.FetchFinish{
		OperationName: req.OperationName,
		OperationType: opType,
		Query:         req.Query,
		Err:           err,
		Duration:      time.Since(start),
	}
	if resp != nil {
		finish.ErrorCount = len(resp.Errors)
	}
	eventbus.Publish(ctx, finish)
	if err != nil {
		c.opt.Logger.Warn("graphql fetch failed", "operation", req.OperationName, "err", err)
	}
	return resp, err
}

func (c *Client) finishFetch(f *fetch, resp *transport.Response, err error) {
	delete(c.inflight, f.key)
	for _, w := range f.watchers {
		w.inflight--
		w.syncState()
	}

	var change store.Change
	var errs []GraphQLError
	if err == nil {
		errs = convertErrors(resp.Errors)
		if resp.Data != nil {
			tx := c.store.Begin()
			f.plan.Merge(tx, resp.Data)
			change = c.store.Commit(tx)
		}
	}
	c.broadcast(change, &origin{watchers: f.watchers, errors: errs, err: err})

	for _, q := range f.queries {
		if err != nil {
			q.done <- queryOutcome{err: &NetworkError{Err: err}}
			continue
		}
		res := c.store.ReadQuery(q.plan.Descriptor)
		q.done <- queryOutcome{res: &Result{
			Data:    res.Data,
			Errors:  errs,
			Partial: !res.Complete,
			sel:     q.plan.Descriptor.Selections,
		}}
	}
}

// origin describes the fetch whose completion triggered a broadcast.
type origin struct {
	watchers []*watcher
	errors   []GraphQLError
	err      error
}

func (o *origin) has(w *watcher) bool { return o != nil && containsWatcher(o.watchers, w) }

type delivery struct {
	w   *watcher
	res *Result
	err error
}

// broadcast re-reads every watcher affected by change and then notifies
// them. No callback runs before all reads are done, so every observer sees
// the same store state.
func (c *Client) broadcast(change store.Change, o *origin) {
	var out []delivery
	for _, w := range c.active() {
		fromOrigin := o.has(w)
		if !fromOrigin && !change.Affects(w.deps) {
			continue
		}
		if fromOrigin && o.err != nil {
			w.deps = c.store.ReadQuery(w.desc).Deps
			out = append(out, delivery{w: w, err: &NetworkError{Err: o.err}})
			continue
		}
		res := w.read()
		if res.Partial && !w.opts.ReturnPartialData && !fromOrigin {
			continue
		}
		if fromOrigin {
			res.Errors = o.errors
		}
		if w.delivered && reflect.DeepEqual(w.last.Data, res.Data) && len(res.Errors) == 0 && w.last.Partial == res.Partial {
			continue
		}
		out = append(out, delivery{w: w, res: res})
	}

	notified := 0
	for _, d := range out {
		if d.w.unsubscribed.Load() {
			continue
		}
		notified++
		if d.err != nil {
			d.w.obs.Error(d.err)
			continue
		}
		d.w.deliver(d.res)
	}
	eventbus.Publish(c.ctx, events.Broadcast{Changed: len(change.IDs), Watchers: len(c.watchers), Notified: notified})
}

func containsWatcher(ws []*watcher, w *watcher) bool {
	for _, x := range ws {
		if x == w {
			return true
		}
	}
	return false
}
