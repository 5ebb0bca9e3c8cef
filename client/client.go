// Package client is a caching GraphQL client. Query results are normalized
// into a shared store; watched queries are kept up to date as the store
// changes, whether by their own fetches, other queries, or mutations.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	dispatch "github.com/hanpama/graphcache/internal/dispatch"
	selection "github.com/hanpama/graphcache/internal/selection"
	store "github.com/hanpama/graphcache/internal/store"
	transport "github.com/hanpama/graphcache/transport"
)

// Client owns a store and the watchers reading from it. All store access
// and every observer callback happen on one dispatch goroutine.
type Client struct {
	tr    transport.Transport
	opt   *Options
	store *store.Store
	queue *dispatch.Queue

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	nextID atomic.Uint64

	// Owned by the dispatch goroutine.
	watchers []*watcher
	inflight map[string]*fetch
}

// New creates a client sending operations through tr.
func New(tr transport.Transport, opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		tr:       tr,
		opt:      o,
		store:    store.New(o.storeOptions()...),
		queue:    dispatch.New(),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*fetch),
	}
	if o.InitialState != nil {
		c.store.Restore(o.InitialState)
	}
	return c
}

// Close stops the client. In-flight fetches are cancelled and no callback
// runs afterwards.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	c.queue.Stop()
}

// Extract returns a deep copy of the current cache state, optimistic
// layers included.
func (c *Client) Extract() map[ID]Record {
	return c.store.Extract()
}

// ResetStore empties the cache, drops optimistic layers and refetches every
// active watcher.
func (c *Client) ResetStore(ctx context.Context) error {
	return c.do(ctx, func() {
		c.store.Reset()
		for _, w := range c.active() {
			c.startFetch(w.plan(true), w, nil)
		}
	})
}

// do runs fn on the dispatch goroutine and waits for it.
func (c *Client) do(ctx context.Context, fn func()) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.queue.Do(ctx, fn); err != nil {
		if errors.Is(err, dispatch.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Client) post(fn func()) bool {
	if c.closed.Load() {
		return false
	}
	return c.queue.Post(fn)
}

func analyze(source, operationName string, variables map[string]any, mutation bool) (*selection.Descriptor, error) {
	d, err := selection.Analyze(source, operationName, variables)
	if err != nil {
		return nil, err
	}
	if d.IsMutation() != mutation {
		if mutation {
			return nil, fmt.Errorf("%w: expected a mutation, got %s", ErrMalformedQuery, d.Operation)
		}
		return nil, fmt.Errorf("%w: mutations must be sent with Mutate", ErrMalformedQuery)
	}
	return d, nil
}
