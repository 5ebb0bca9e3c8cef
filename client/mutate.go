package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	reqid "github.com/hanpama/graphcache/internal/reqid"
	transport "github.com/hanpama/graphcache/transport"
)

// MutateOptions describes a mutation.
type MutateOptions struct {
	Mutation      string
	OperationName string
	Variables     map[string]any
	// OptimisticUpdater writes the expected outcome before the server
	// answers. Its writes are shown as a layer over the cache until the
	// mutation settles. It runs again whenever the data below the layer
	// changes, so it must only touch the Tx it is given.
	OptimisticUpdater func(tx *Tx) error
	// Update runs after the result is written, in the same commit, to
	// adjust other cached data (lists, counters). It sees the cache without
	// any optimistic layer.
	Update func(tx *Tx, res *Result) error
}

// Mutate sends a mutation. With an optimistic updater, watchers see the
// optimistic state immediately; it is replaced by the server result on
// success and rolled back on failure. Mutate blocks until the mutation
// settles and must not be called from an observer callback.
func (c *Client) Mutate(ctx context.Context, opts MutateOptions) (*Result, error) {
	d, err := analyze(opts.Mutation, opts.OperationName, opts.Variables, true)
	if err != nil {
		return nil, err
	}

	layerID := ""
	if opts.OptimisticUpdater != nil {
		var uerr error
		err := c.do(context.Background(), func() {
			id := uuid.NewString()
			change, err := c.store.PushLayer(id, opts.OptimisticUpdater)
			if err != nil {
				uerr = err
				return
			}
			layerID = id
			eventbus.Publish(ctx, events.OptimisticPush{LayerID: layerID, OperationName: d.Name})
			c.broadcast(change, nil)
		})
		if err != nil {
			return nil, err
		}
		if uerr != nil {
			return nil, fmt.Errorf("client: optimistic update: %w", uerr)
		}
	}

	rctx, _ := reqid.NewContext(ctx)
	req := &transport.Request{Query: d.Source, OperationName: d.Name, Variables: d.Variables}
	resp, err := c.execute(rctx, req, "mutation", true)
	if err != nil {
		if layerID != "" {
			rerr := c.do(context.Background(), func() {
				change := c.store.RemoveLayer(layerID)
				eventbus.Publish(ctx, events.OptimisticSettle{LayerID: layerID, RolledBack: true})
				c.broadcast(change, nil)
			})
			if rerr != nil {
				// Only a closed client refuses the rollback, and nothing
				// reads its store any more.
				c.opt.Logger.Debug("optimistic rollback skipped", "layer", layerID, "err", rerr)
			}
		}
		return nil, &NetworkError{Err: err}
	}

	res := &Result{Data: resp.Data, Errors: convertErrors(resp.Errors), sel: d.Selections}
	var uerr error
	err = c.do(context.Background(), func() {
		tx := c.store.Begin()
		if resp.Data != nil {
			tx.WriteQuery(d, resp.Data)
		}
		if opts.Update != nil {
			if uerr = opts.Update(tx, res); uerr != nil {
				tx = c.store.Begin()
				if resp.Data != nil {
					tx.WriteQuery(d, resp.Data)
				}
			}
		}
		change := c.store.Settle(layerID, tx)
		if layerID != "" {
			eventbus.Publish(ctx, events.OptimisticSettle{LayerID: layerID})
		}
		c.broadcast(change, nil)
	})
	if err != nil {
		return nil, err
	}
	if uerr != nil {
		return res, fmt.Errorf("client: mutation update: %w", uerr)
	}
	return res, nil
}
