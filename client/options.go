package client

import (
	"log/slog"
	"time"

	store "github.com/hanpama/graphcache/internal/store"
)

// Options configures a Client.
//
// Defaults:
// - Logger:         slog.Default()
// - IDFunc:         "__typename:id" when both are present
// - RequestTimeout: none (used only for fetches started by watchers and
//                   deduplicated queries, which do not carry a caller
//                   context)
type Options struct {
	Logger         *slog.Logger
	IDFunc         func(obj map[string]any) (ID, bool)
	InitialState   map[ID]Record
	RequestTimeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the logger used for fetch failures and store warnings.
func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithIDFunc sets how result objects are identified in the cache.
func WithIDFunc(f func(obj map[string]any) (ID, bool)) Option {
	return func(o *Options) { o.IDFunc = f }
}

// WithInitialState seeds the cache, typically from Extract on another
// client.
func WithInitialState(s map[ID]Record) Option { return func(o *Options) { o.InitialState = s } }

// WithRequestTimeout bounds fetches that are not tied to a caller context.
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }

func defaultOptions() *Options {
	return &Options{Logger: slog.Default()}
}

func (o *Options) storeOptions() []store.Option {
	opts := []store.Option{store.WithLogger(o.Logger)}
	if o.IDFunc != nil {
		opts = append(opts, store.WithIDFunc(o.IDFunc))
	}
	return opts
}
