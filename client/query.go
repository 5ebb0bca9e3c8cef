package client

import (
	"context"

	diff "github.com/hanpama/graphcache/internal/diff"
	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
)

// QueryOptions describes a one-shot query.
type QueryOptions struct {
	Query         string
	OperationName string
	Variables     map[string]any
	// ForceFetch sends the query as written and overwrites cached data
	// with the response.
	ForceFetch bool
}

// Query answers a query from the cache when it can, otherwise fetches only
// the missing parts and returns the merged result. It blocks until the
// result is available or ctx is done, and must not be called from an
// observer callback.
func (c *Client) Query(ctx context.Context, opts QueryOptions) (*Result, error) {
	d, err := analyze(opts.Query, opts.OperationName, opts.Variables, false)
	if err != nil {
		return nil, err
	}

	done := make(chan queryOutcome, 1)
	err = c.do(ctx, func() {
		p := diff.Compute(d, c.store, opts.ForceFetch)
		if p.Read != nil {
			eventbus.Publish(ctx, events.CacheResult{
				OperationName: d.Name,
				Fingerprint:   d.Fingerprint,
				Hit:           p.Hit(),
				MissingUnits:  len(p.Read.Missing),
			})
		}
		if p.Hit() {
			done <- queryOutcome{res: &Result{Data: p.Read.Data, sel: d.Selections}}
			return
		}
		c.startFetch(p, nil, &pendingQuery{plan: p, done: done})
	})
	if err != nil {
		return nil, err
	}

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}
